package models

import (
	"errors"
	"strings"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name        string
		build       func() (Message, error)
		expectedErr error
		kind        MessageKind
	}{
		{
			name:  "text message",
			build: func() (Message, error) { return NewTextMessage("u1", "hello") },
			kind:  KindText,
		},
		{
			name:        "text without payload",
			build:       func() (Message, error) { return NewTextMessage("u1", "") },
			expectedErr: ErrNoPayload,
		},
		{
			name:        "text without sender",
			build:       func() (Message, error) { return NewTextMessage("", "hello") },
			expectedErr: ErrNoSender,
		},
		{
			name:  "image message",
			build: func() (Message, error) { return NewImageMessage("u1", "https://cdn/img.png") },
			kind:  KindImage,
		},
		{
			name:  "video message",
			build: func() (Message, error) { return NewVideoMessage("u1", "https://cdn/v.mp4", "mp4", 12.5) },
			kind:  KindVideo,
		},
		{
			name:  "document message",
			build: func() (Message, error) { return NewDocumentMessage("u1", "https://cdn/d.pdf", "report.pdf", 1024, "pdf") },
			kind:  KindDocument,
		},
		{
			name:        "document without url",
			build:       func() (Message, error) { return NewDocumentMessage("u1", "", "report.pdf", 1024, "pdf") },
			expectedErr: ErrNoPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.build()
			if !errors.Is(err, tt.expectedErr) {
				t.Fatalf("expected err %v, got %v", tt.expectedErr, err)
			}
			if tt.expectedErr != nil {
				return
			}
			kind, err := m.Kind()
			if err != nil {
				t.Fatalf("Kind: %v", err)
			}
			if kind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, kind)
			}
			if m.ID == "" || m.CreatedAt == 0 {
				t.Errorf("constructor must fill id and createdAt, got %+v", m)
			}
			if !strings.HasPrefix(m.ID, "u1_") {
				t.Errorf("synthetic id must start with sender, got %q", m.ID)
			}
			if !m.Valid() {
				t.Errorf("constructed message must be valid")
			}
		})
	}
}

func TestMessageKindMalformed(t *testing.T) {
	tests := []struct {
		name        string
		msg         Message
		expectedErr error
	}{
		{
			name:        "no payload",
			msg:         Message{SID: "u1"},
			expectedErr: ErrNoPayload,
		},
		{
			name:        "two payloads",
			msg:         Message{SID: "u1", Text: "hi", Image: "https://cdn/i.png"},
			expectedErr: ErrMultiplePayload,
		},
		{
			name:        "text and document",
			msg:         Message{SID: "u1", Text: "hi", Document: "https://cdn/d.pdf"},
			expectedErr: ErrMultiplePayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.msg.Kind(); !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %v", tt.expectedErr, err)
			}
			if tt.msg.Valid() {
				t.Errorf("malformed message must not be valid")
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{
			name:     "short text verbatim",
			msg:      Message{SID: "u1", Text: "see you tomorrow"},
			expected: "see you tomorrow",
		},
		{
			name:     "long text truncated to thirty runes",
			msg:      Message{SID: "u1", Text: strings.Repeat("a", 45)},
			expected: strings.Repeat("a", 30),
		},
		{
			name:     "multibyte text truncated by rune not byte",
			msg:      Message{SID: "u1", Text: strings.Repeat("ё", 45)},
			expected: strings.Repeat("ё", 30),
		},
		{
			name:     "image label",
			msg:      Message{SID: "u1", Image: "https://cdn/i.png"},
			expected: "🖼️ Image",
		},
		{
			name:     "video label",
			msg:      Message{SID: "u1", Video: "https://cdn/v.mp4"},
			expected: "📹 Video",
		},
		{
			name:     "document label carries extension",
			msg:      Message{SID: "u1", Document: "https://cdn/d", DocumentName: "notes.docx"},
			expected: "📄 DOCX file",
		},
		{
			name:     "document without extension",
			msg:      Message{SID: "u1", Document: "https://cdn/d", DocumentName: "notes"},
			expected: "📄 file",
		},
		{
			name:     "malformed message previews empty",
			msg:      Message{SID: "u1"},
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Preview(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSameMessage(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Message
		expected bool
	}{
		{
			name:     "matching ids",
			a:        Message{ID: "u1_1_aaaa"},
			b:        Message{ID: "u1_1_aaaa", SID: "other"},
			expected: true,
		},
		{
			name:     "different ids",
			a:        Message{ID: "u1_1_aaaa", SID: "u1", CreatedAt: 5},
			b:        Message{ID: "u1_1_bbbb", SID: "u1", CreatedAt: 5},
			expected: false,
		},
		{
			name:     "legacy records fall back to sender and timestamp",
			a:        Message{SID: "u1", CreatedAt: 5},
			b:        Message{SID: "u1", CreatedAt: 5},
			expected: true,
		},
		{
			name:     "legacy records with different timestamps",
			a:        Message{SID: "u1", CreatedAt: 5},
			b:        Message{SID: "u1", CreatedAt: 6},
			expected: false,
		},
		{
			name:     "one-sided id still falls back",
			a:        Message{ID: "u1_5_aaaa", SID: "u1", CreatedAt: 5},
			b:        Message{SID: "u1", CreatedAt: 5},
			expected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameMessage(tt.a, tt.b); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNewSystemMessage(t *testing.T) {
	m := NewSystemMessage("alice joined the group")
	if m.SID != SystemSender {
		t.Errorf("expected sender %q, got %q", SystemSender, m.SID)
	}
	if !m.Valid() {
		t.Errorf("system message must be valid")
	}
}
