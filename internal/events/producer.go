// Package events publishes domain events for downstream consumers
// (notification delivery, analytics). Publishing is best effort: a broker
// outage must never fail the chat operation that triggered the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	MessageSent    = "message_sent"
	MessageEdited  = "message_edited"
	MessageDeleted = "message_deleted"
	ChatOpened     = "chat_opened"
	GroupCreated   = "group_created"
	MemberAdded    = "member_added"
	MemberRemoved  = "member_removed"
	MemberJoined   = "member_joined"
	MemberLeft     = "member_left"
	AdminPromoted  = "admin_promoted"
	AdminDemoted   = "admin_demoted"
)

type Event struct {
	Type       string   `json:"type"`
	ActorID    string   `json:"actor_id,omitempty"`
	MessagesID string   `json:"messages_id,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	Members    []string `json:"members,omitempty"`
	At         int64    `json:"at"`
}

type Producer struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w, log: log}
}

// Publish is nil-safe so callers wired without a broker can skip eventing.
func (p *Producer) Publish(ctx context.Context, ev Event) {
	if p == nil || p.writer == nil {
		return
	}
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(ev)
	msg := kafka.Message{Key: []byte(ev.Type), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("event publish failed", "type", ev.Type, "err", err)
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
