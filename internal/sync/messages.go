package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/Berhanu27/chat-app/internal/events"
	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

var (
	ErrNotParticipant  = errors.New("sync: caller is not a participant of this conversation")
	ErrMessageNotFound = errors.New("sync: message not found")
	ErrNotAllowed      = errors.New("sync: operation not allowed")
	ErrInvalidMessage  = errors.New("sync: invalid message")
)

// SendMessage appends one message to the conversation's log and then updates
// every participant's chat index entry (preview, activity stamp, unread
// flag). The two steps are independent writes with no transaction between
// them: a crash after the first leaves the message stored but some previews
// stale, and a failure against one participant does not roll back the
// others. That divergence is logged, never repaired here.
func (s *Session) SendMessage(ctx context.Context, messagesID string, msg models.Message) error {
	if !msg.Valid() {
		return ErrInvalidMessage
	}
	if msg.SID != s.UserID {
		return ErrNotAllowed
	}

	entry, err := s.indexEntry(ctx, messagesID)
	if err != nil {
		return err
	}
	participants := s.o.participants(ctx, s.UserID, entry)

	if err := s.o.appendMessage(ctx, messagesID, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	preview := msg.Preview()
	if err := s.o.fanOutIndex(ctx, participants, messagesID, s.UserID, preview); err != nil {
		return err
	}

	s.o.producer.Publish(ctx, events.Event{
		Type:       events.MessageSent,
		ActorID:    s.UserID,
		MessagesID: messagesID,
		Members:    participants,
	})
	return nil
}

// EditMessage rewrites the whole message array with the matched entry's text
// replaced. Only the author may edit, and only text messages are editable.
// Two clients editing concurrently race last-writer-wins; no concurrency
// token exists to detect the lost update.
func (s *Session) EditMessage(ctx context.Context, messagesID string, target models.Message, newText string) error {
	if newText == "" {
		return ErrInvalidMessage
	}
	var log models.MessageLog
	if err := s.o.store.Get(ctx, store.Messages, messagesID, &log); err != nil {
		if err == store.ErrNotFound {
			return ErrMessageNotFound
		}
		return err
	}

	idx := -1
	for i := range log.Messages {
		if models.SameMessage(log.Messages[i], target) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrMessageNotFound
	}
	if log.Messages[idx].SID != s.UserID {
		return ErrNotAllowed
	}
	if log.Messages[idx].Text == "" {
		return ErrInvalidMessage
	}

	log.Messages[idx].Text = newText
	log.Messages[idx].Edited = true
	log.Messages[idx].EditedAt = models.NowMillis()

	if err := s.o.store.Set(ctx, store.Messages, messagesID, &log); err != nil {
		return err
	}
	s.o.producer.Publish(ctx, events.Event{Type: events.MessageEdited, ActorID: s.UserID, MessagesID: messagesID})
	return nil
}

// DeleteMessage removes the matched entry and rewrites the whole array,
// leaving every other message in its original order. Only the author may
// delete.
func (s *Session) DeleteMessage(ctx context.Context, messagesID string, target models.Message) error {
	var log models.MessageLog
	if err := s.o.store.Get(ctx, store.Messages, messagesID, &log); err != nil {
		if err == store.ErrNotFound {
			return ErrMessageNotFound
		}
		return err
	}

	kept := make([]models.Message, 0, len(log.Messages))
	found := false
	for _, m := range log.Messages {
		if models.SameMessage(m, target) {
			if m.SID != s.UserID {
				return ErrNotAllowed
			}
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return ErrMessageNotFound
	}

	log.Messages = kept
	if err := s.o.store.Set(ctx, store.Messages, messagesID, &log); err != nil {
		return err
	}
	s.o.producer.Publish(ctx, events.Event{Type: events.MessageDeleted, ActorID: s.UserID, MessagesID: messagesID})
	return nil
}

// MarkSeen flips the caller's own unread flag for one conversation. Plain
// read-modify-write: it races against a concurrent SendMessage touching the
// same index document and the later write wins.
func (s *Session) MarkSeen(ctx context.Context, messagesID string) error {
	return s.o.updateIndexEntry(ctx, s.UserID, messagesID, func(e *models.ChatIndexEntry) {
		e.MessageSeen = true
	})
}

func (s *Session) indexEntry(ctx context.Context, messagesID string) (models.ChatIndexEntry, error) {
	var index models.ChatIndex
	if err := s.o.store.Get(ctx, store.Chats, s.UserID, &index); err != nil {
		if err == store.ErrNotFound {
			return models.ChatIndexEntry{}, ErrNotParticipant
		}
		return models.ChatIndexEntry{}, err
	}
	idx := index.EntryFor(messagesID)
	if idx == -1 {
		return models.ChatIndexEntry{}, ErrNotParticipant
	}
	return index.ChatData[idx], nil
}

// participants resolves who holds a copy of this conversation. Group rosters
// come from the canonical group document; the denormalized copy is only used
// when the canonical one is unreachable, because it can be stale.
func (o *Orchestrator) participants(ctx context.Context, ownerID string, entry models.ChatIndexEntry) []string {
	if !entry.IsGroup {
		// RID is the peer id on a 1:1 entry
		return []string{ownerID, entry.RID}
	}
	var group models.Group
	if err := o.store.Get(ctx, store.Groups, entry.RID, &group); err == nil {
		return group.Members
	} else if entry.GroupData != nil {
		o.log.Warnw("canonical group unreachable, using denormalized roster", "group", entry.RID, "err", err)
		return entry.GroupData.Members
	}
	return nil
}

func (o *Orchestrator) appendMessage(ctx context.Context, messagesID string, msg models.Message) error {
	var log models.MessageLog
	err := o.store.Get(ctx, store.Messages, messagesID, &log)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if err == store.ErrNotFound {
		log.CreateAt = models.NowMillis()
	}
	log.Messages = append(log.Messages, msg)
	return o.store.Set(ctx, store.Messages, messagesID, &log)
}

// fanOutIndex updates each participant's index entry in sequence. Failures
// are logged and the loop continues so one unreachable participant does not
// starve the rest; the first error is still reported to the caller.
func (o *Orchestrator) fanOutIndex(ctx context.Context, participants []string, messagesID, senderID, preview string) error {
	now := models.NowMillis()
	var firstErr error
	for _, pid := range participants {
		pid := pid
		err := o.updateIndexEntry(ctx, pid, messagesID, func(e *models.ChatIndexEntry) {
			e.LastMessage = preview
			e.UpdatedAt = now
			e.MessageSeen = pid == senderID
		})
		if err != nil {
			o.log.Warnw("index fan-out failed, previews may be out of sync with the message log",
				"participant", pid, "messagesId", messagesID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("chat index fan-out: %w", firstErr)
	}
	return nil
}

// updateIndexEntry is the shared read-modify-write on one user's chat index
// document. A missing document or entry is a soft no-op: the participant may
// simply not have the conversation yet.
func (o *Orchestrator) updateIndexEntry(ctx context.Context, userID, messagesID string, mutate func(*models.ChatIndexEntry)) error {
	var index models.ChatIndex
	if err := o.store.Get(ctx, store.Chats, userID, &index); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	idx := index.EntryFor(messagesID)
	if idx == -1 {
		return nil
	}
	mutate(&index.ChatData[idx])
	return o.store.Merge(ctx, store.Chats, userID, map[string]any{"chatData": index.ChatData})
}
