package models

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemSender is the sender id used for roster announcements ("X joined the
// group" and friends).
const SystemSender = "system"

const previewLimit = 30

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

var (
	ErrNoPayload       = errors.New("message has no content payload")
	ErrMultiplePayload = errors.New("message has more than one content payload")
	ErrNoSender        = errors.New("message has no sender id")
)

// Message is one element of a messages/{messagesId} document. Exactly one of
// Text, Image, Video or Document is populated; use the constructors rather
// than building the struct by hand. CreatedAt is epoch milliseconds.
type Message struct {
	ID  string `bson:"id,omitempty" json:"id,omitempty"`
	SID string `bson:"sId" json:"sId"`

	Text string `bson:"text,omitempty" json:"text,omitempty"`

	Image string `bson:"image,omitempty" json:"image,omitempty"`

	Video         string  `bson:"video,omitempty" json:"video,omitempty"`
	VideoFormat   string  `bson:"videoFormat,omitempty" json:"videoFormat,omitempty"`
	VideoDuration float64 `bson:"videoDuration,omitempty" json:"videoDuration,omitempty"`

	Document       string `bson:"document,omitempty" json:"document,omitempty"`
	DocumentName   string `bson:"documentName,omitempty" json:"documentName,omitempty"`
	DocumentSize   int64  `bson:"documentSize,omitempty" json:"documentSize,omitempty"`
	DocumentFormat string `bson:"documentFormat,omitempty" json:"documentFormat,omitempty"`

	CreatedAt int64 `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	Edited    bool  `bson:"edited,omitempty" json:"edited,omitempty"`
	EditedAt  int64 `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
}

// MessageLog is the messages/{messagesId} document. The array is rewritten
// wholesale on edit and delete; there is no per-message addressing.
type MessageLog struct {
	CreateAt int64     `bson:"createAt,omitempty" json:"createAt,omitempty"`
	Messages []Message `bson:"messages" json:"messages"`
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SyntheticID builds a message id in the sender_timestamp_random shape the
// stored data already uses.
func SyntheticID(senderID string) string {
	return fmt.Sprintf("%s_%d_%s", senderID, NowMillis(), uuid.NewString()[:8])
}

func newMessage(senderID string) (Message, error) {
	if senderID == "" {
		return Message{}, ErrNoSender
	}
	return Message{
		ID:        SyntheticID(senderID),
		SID:       senderID,
		CreatedAt: NowMillis(),
	}, nil
}

func NewTextMessage(senderID, text string) (Message, error) {
	if text == "" {
		return Message{}, ErrNoPayload
	}
	m, err := newMessage(senderID)
	if err != nil {
		return Message{}, err
	}
	m.Text = text
	return m, nil
}

func NewImageMessage(senderID, url string) (Message, error) {
	if url == "" {
		return Message{}, ErrNoPayload
	}
	m, err := newMessage(senderID)
	if err != nil {
		return Message{}, err
	}
	m.Image = url
	return m, nil
}

func NewVideoMessage(senderID, url, format string, duration float64) (Message, error) {
	if url == "" {
		return Message{}, ErrNoPayload
	}
	m, err := newMessage(senderID)
	if err != nil {
		return Message{}, err
	}
	m.Video = url
	m.VideoFormat = format
	m.VideoDuration = duration
	return m, nil
}

func NewDocumentMessage(senderID, url, name string, size int64, format string) (Message, error) {
	if url == "" {
		return Message{}, ErrNoPayload
	}
	m, err := newMessage(senderID)
	if err != nil {
		return Message{}, err
	}
	m.Document = url
	if name == "" {
		name = "Unknown File"
	}
	m.DocumentName = name
	m.DocumentSize = size
	m.DocumentFormat = format
	return m, nil
}

// NewSystemMessage announces roster changes inside the conversation itself.
func NewSystemMessage(text string) Message {
	return Message{
		ID:        SyntheticID(SystemSender),
		SID:       SystemSender,
		Text:      text,
		CreatedAt: NowMillis(),
	}
}

// Kind reports which payload is set, or an error when the record is
// malformed (zero or multiple payloads).
func (m Message) Kind() (MessageKind, error) {
	var k MessageKind
	n := 0
	if m.Text != "" {
		k, n = KindText, n+1
	}
	if m.Image != "" {
		k, n = KindImage, n+1
	}
	if m.Video != "" {
		k, n = KindVideo, n+1
	}
	if m.Document != "" {
		k, n = KindDocument, n+1
	}
	switch n {
	case 0:
		return "", ErrNoPayload
	case 1:
		return k, nil
	default:
		return "", ErrMultiplePayload
	}
}

// Valid is the snapshot filter predicate: a message survives a reload only
// with a sender id and exactly one payload.
func (m Message) Valid() bool {
	if m.SID == "" {
		return false
	}
	_, err := m.Kind()
	return err == nil
}

// Preview is the chat-list summary written into every participant's index
// entry: a text prefix, or a type label for media.
func (m Message) Preview() string {
	kind, err := m.Kind()
	if err != nil {
		return ""
	}
	switch kind {
	case KindImage:
		return "🖼️ Image"
	case KindVideo:
		return "📹 Video"
	case KindDocument:
		ext := strings.ToUpper(strings.TrimPrefix(path.Ext(m.DocumentName), "."))
		if ext == "" {
			return "📄 file"
		}
		return fmt.Sprintf("📄 %s file", ext)
	default:
		runes := []rune(m.Text)
		if len(runes) > previewLimit {
			return string(runes[:previewLimit])
		}
		return m.Text
	}
}

// SameMessage matches by id when both sides have one, falling back to the
// (sender, createdAt) composite for records that predate synthetic ids.
func SameMessage(a, b Message) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.SID == b.SID && a.CreatedAt == b.CreatedAt
}
