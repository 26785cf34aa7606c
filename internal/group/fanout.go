package group

import (
	"context"
	"fmt"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/outbox"
	"github.com/Berhanu27/chat-app/internal/store"
)

// Intent kinds handled by ApplyIntent.
const (
	intentUpsert = "group_upsert"
	intentRemove = "group_entry_remove"
)

// fanOutUpsert rewrites (or creates) the group's index entry in every target
// member's chat index. The intent is recorded first so a crash mid-loop is
// picked up by Resume instead of leaving some members permanently stale.
func (m *Manager) fanOutUpsert(ctx context.Context, groupID string, targets []string, lastMessage, seenFor string) error {
	in, err := m.outbox.Begin(ctx, intentUpsert, targets, map[string]string{
		"groupId":     groupID,
		"lastMessage": lastMessage,
		"seenFor":     seenFor,
	})
	if err != nil {
		return err
	}
	return m.outbox.Run(ctx, in, m.ApplyIntent)
}

// fanOutRemove deletes the group's index entry from the departing member's
// chat index.
func (m *Manager) fanOutRemove(ctx context.Context, groupID, memberID string) error {
	in, err := m.outbox.Begin(ctx, intentRemove, []string{memberID}, map[string]string{
		"groupId": groupID,
	})
	if err != nil {
		return err
	}
	return m.outbox.Run(ctx, in, m.ApplyIntent)
}

// Resume finishes any fan-out that died mid-loop in an earlier process.
// Call once on startup.
func (m *Manager) Resume(ctx context.Context) error {
	return m.outbox.Resume(ctx, m.ApplyIntent)
}

// ApplyIntent applies one fan-out mutation to one target's chat index. It is
// idempotent: upserts re-derive the entry from the canonical group document
// and removals of an absent entry are no-ops, so replays converge.
func (m *Manager) ApplyIntent(ctx context.Context, in outbox.Intent, target string) error {
	switch in.Kind {
	case intentUpsert:
		return m.upsertEntry(ctx, target, in.Payload["groupId"], in.Payload["lastMessage"], in.Payload["seenFor"])
	case intentRemove:
		return m.removeEntry(ctx, target, in.Payload["groupId"])
	default:
		return fmt.Errorf("group: unknown intent kind %q", in.Kind)
	}
}

func (m *Manager) upsertEntry(ctx context.Context, target, groupID, lastMessage, seenFor string) error {
	var group models.Group
	if err := m.store.Get(ctx, store.Groups, groupID, &group); err != nil {
		if err == store.ErrNotFound {
			// group deleted between intent and apply
			return nil
		}
		return err
	}
	if !group.IsMember(target) {
		return nil
	}

	now := models.NowMillis()
	var index models.ChatIndex
	err := m.store.Get(ctx, store.Chats, target, &index)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	missingDoc := err == store.ErrNotFound

	if idx := index.EntryFor(group.MessagesID); idx != -1 {
		// roster-only refreshes (no announcement) update the denormalized
		// snapshot and nothing else; there is no new content to mark unread
		entry := &index.ChatData[idx]
		entry.GroupData = &group
		if lastMessage != "" {
			entry.LastMessage = lastMessage
			entry.UpdatedAt = now
			entry.MessageSeen = target == seenFor
		}
	} else {
		index.ChatData = append(index.ChatData, models.ChatIndexEntry{
			MessagesID:  group.MessagesID,
			RID:         group.ID,
			LastMessage: lastMessage,
			UpdateAt:    now,
			UpdatedAt:   now,
			MessageSeen: lastMessage == "" || target == seenFor,
			IsGroup:     true,
			GroupData:   &group,
		})
	}

	if missingDoc {
		return m.store.Set(ctx, store.Chats, target, &index)
	}
	return m.store.Merge(ctx, store.Chats, target, map[string]any{"chatData": index.ChatData})
}

func (m *Manager) removeEntry(ctx context.Context, target, groupID string) error {
	var index models.ChatIndex
	if err := m.store.Get(ctx, store.Chats, target, &index); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	kept := make([]models.ChatIndexEntry, 0, len(index.ChatData))
	for _, e := range index.ChatData {
		if e.IsGroup && e.RID == groupID {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == len(index.ChatData) {
		return nil
	}
	return m.store.Merge(ctx, store.Chats, target, map[string]any{"chatData": kept})
}
