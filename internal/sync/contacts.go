package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Berhanu27/chat-app/internal/events"
	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

// SearchUser resolves a profile by exact lowercase username. A missing user
// surfaces as store.ErrNotFound; callers render "no results", not a failure.
func (s *Session) SearchUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.o.store.FindByField(ctx, store.Users, "username", strings.ToLower(username), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// OpenChat establishes first contact with a peer: a fresh message log plus
// one index entry in each participant's document, both marked seen. If a 1:1
// conversation with this peer already exists it is returned as is, so
// opening twice never duplicates entries.
func (s *Session) OpenChat(ctx context.Context, peerID string) (models.ChatIndexEntry, error) {
	var peer models.User
	if err := s.o.store.Get(ctx, store.Users, peerID, &peer); err != nil {
		return models.ChatIndexEntry{}, fmt.Errorf("resolve peer: %w", err)
	}

	var index models.ChatIndex
	if err := s.o.store.Get(ctx, store.Chats, s.UserID, &index); err != nil && err != store.ErrNotFound {
		return models.ChatIndexEntry{}, err
	}
	for _, e := range index.ChatData {
		if !e.IsGroup && e.RID == peerID {
			e.UserData = &peer
			return e, nil
		}
	}

	messagesID := uuid.NewString()
	now := models.NowMillis()
	if err := s.o.store.Set(ctx, store.Messages, messagesID, &models.MessageLog{CreateAt: now, Messages: []models.Message{}}); err != nil {
		return models.ChatIndexEntry{}, fmt.Errorf("create message log: %w", err)
	}

	// two independent writes; the peer gains the conversation first, as the
	// original write order had it
	peerEntry := models.ChatIndexEntry{
		MessagesID:  messagesID,
		RID:         s.UserID,
		UpdateAt:    now,
		MessageSeen: true,
	}
	if err := s.o.appendIndexEntry(ctx, peerID, peerEntry); err != nil {
		return models.ChatIndexEntry{}, fmt.Errorf("add peer entry: %w", err)
	}

	selfEntry := models.ChatIndexEntry{
		MessagesID:  messagesID,
		RID:         peerID,
		UpdateAt:    now,
		MessageSeen: true,
	}
	if err := s.o.appendIndexEntry(ctx, s.UserID, selfEntry); err != nil {
		return models.ChatIndexEntry{}, fmt.Errorf("add own entry: %w", err)
	}

	s.o.producer.Publish(ctx, events.Event{
		Type:       events.ChatOpened,
		ActorID:    s.UserID,
		MessagesID: messagesID,
		Members:    []string{s.UserID, peerID},
	})
	selfEntry.UserData = &peer
	return selfEntry, nil
}

// RemoveContact drops the conversation from both participants' indexes. The
// message log document is left behind; nothing references it afterwards.
func (s *Session) RemoveContact(ctx context.Context, messagesID string) error {
	entry, err := s.indexEntry(ctx, messagesID)
	if err != nil {
		return err
	}
	if entry.IsGroup {
		return ErrNotAllowed
	}
	if err := s.o.removeIndexEntry(ctx, s.UserID, messagesID); err != nil {
		return err
	}
	return s.o.removeIndexEntry(ctx, entry.RID, messagesID)
}

// SaveSettings mirrors the preference object into the profile document so
// other devices pick it up on their next snapshot.
func (s *Session) SaveSettings(ctx context.Context, settings models.Settings) error {
	if err := s.o.store.Merge(ctx, store.Users, s.UserID, map[string]any{"settings": settings}); err != nil {
		return err
	}
	s.User.Settings = settings
	return nil
}

// UpdateProfile rewrites the editable profile fields.
func (s *Session) UpdateProfile(ctx context.Context, name, bio, avatar string) error {
	fields := map[string]any{"name": name, "bio": bio}
	if avatar != "" {
		fields["avatar"] = avatar
	}
	if err := s.o.store.Merge(ctx, store.Users, s.UserID, fields); err != nil {
		return err
	}
	s.User.Name = name
	s.User.Bio = bio
	if avatar != "" {
		s.User.Avatar = avatar
	}
	return nil
}

// BlockUser and UnblockUser maintain the caller's block list on their own
// profile document.
func (s *Session) BlockUser(ctx context.Context, userID string) error {
	for _, b := range s.User.BlockedUsers {
		if b == userID {
			return nil
		}
	}
	blocked := append(append([]string(nil), s.User.BlockedUsers...), userID)
	if err := s.o.store.Merge(ctx, store.Users, s.UserID, map[string]any{"blockedUsers": blocked}); err != nil {
		return err
	}
	s.User.BlockedUsers = blocked
	return nil
}

func (s *Session) UnblockUser(ctx context.Context, userID string) error {
	blocked := make([]string, 0, len(s.User.BlockedUsers))
	for _, b := range s.User.BlockedUsers {
		if b != userID {
			blocked = append(blocked, b)
		}
	}
	if err := s.o.store.Merge(ctx, store.Users, s.UserID, map[string]any{"blockedUsers": blocked}); err != nil {
		return err
	}
	s.User.BlockedUsers = blocked
	return nil
}

// appendIndexEntry adds an entry to a user's chat index, creating the
// document when the user has no conversations yet.
func (o *Orchestrator) appendIndexEntry(ctx context.Context, userID string, entry models.ChatIndexEntry) error {
	var index models.ChatIndex
	err := o.store.Get(ctx, store.Chats, userID, &index)
	switch err {
	case nil:
		index.ChatData = append(index.ChatData, entry)
		return o.store.Merge(ctx, store.Chats, userID, map[string]any{"chatData": index.ChatData})
	case store.ErrNotFound:
		return o.store.Set(ctx, store.Chats, userID, &models.ChatIndex{ChatData: []models.ChatIndexEntry{entry}})
	default:
		return err
	}
}

// removeIndexEntry strips the entry referencing messagesID from a user's
// index. Missing document or entry is a soft no-op.
func (o *Orchestrator) removeIndexEntry(ctx context.Context, userID, messagesID string) error {
	var index models.ChatIndex
	if err := o.store.Get(ctx, store.Chats, userID, &index); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	kept := make([]models.ChatIndexEntry, 0, len(index.ChatData))
	for _, e := range index.ChatData {
		if e.MessagesID != messagesID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(index.ChatData) {
		return nil
	}
	return o.store.Merge(ctx, store.Chats, userID, map[string]any{"chatData": kept})
}
