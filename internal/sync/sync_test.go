package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

func seedUser(t *testing.T, st store.Store, id, username string) {
	t.Helper()
	err := st.Set(context.Background(), store.Users, id, models.User{
		ID:       id,
		Username: username,
		Email:    username + "@example.com",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedChatIndex(t *testing.T, st store.Store, userID string, entries ...models.ChatIndexEntry) {
	t.Helper()
	err := st.Set(context.Background(), store.Chats, userID, models.ChatIndex{ChatData: entries})
	if err != nil {
		t.Fatalf("seed chat index %s: %v", userID, err)
	}
}

func openSession(t *testing.T, o *Orchestrator, userID string) *Session {
	t.Helper()
	s, err := o.OpenSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("open session %s: %v", userID, err)
	}
	t.Cleanup(s.Close)
	return s
}

func chatIndex(t *testing.T, st store.Store, userID string) models.ChatIndex {
	t.Helper()
	var index models.ChatIndex
	if err := st.Get(context.Background(), store.Chats, userID, &index); err != nil {
		t.Fatalf("read chat index %s: %v", userID, err)
	}
	return index
}

func messageLog(t *testing.T, st store.Store, messagesID string) models.MessageLog {
	t.Helper()
	var log models.MessageLog
	if err := st.Get(context.Background(), store.Messages, messagesID, &log); err != nil {
		t.Fatalf("read message log %s: %v", messagesID, err)
	}
	return log
}

func newPair(t *testing.T) (*MemoryFixture, *Session, *Session) {
	t.Helper()
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	seedUser(t, st, "u2", "bob")
	seedChatIndex(t, st, "u1", models.ChatIndexEntry{MessagesID: "m1", RID: "u2", MessageSeen: true})
	seedChatIndex(t, st, "u2", models.ChatIndexEntry{MessagesID: "m1", RID: "u1", MessageSeen: true})
	f := &MemoryFixture{Store: st, Orch: o}
	return f, openSession(t, o, "u1"), openSession(t, o, "u2")
}

// MemoryFixture bundles the in-memory store with its orchestrator for tests.
type MemoryFixture struct {
	Store *store.MemoryStore
	Orch  *Orchestrator
}

func TestSendMessageFanOut(t *testing.T) {
	f, alice, _ := newPair(t)
	ctx := context.Background()

	msg, err := models.NewTextMessage("u1", "hello bob")
	if err != nil {
		t.Fatalf("NewTextMessage: %v", err)
	}
	if err := alice.SendMessage(ctx, "m1", msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	log := messageLog(t, f.Store, "m1")
	if len(log.Messages) != 1 || log.Messages[0].Text != "hello bob" {
		t.Fatalf("unexpected log %+v", log)
	}

	senderEntry := chatIndex(t, f.Store, "u1").ChatData[0]
	if !senderEntry.MessageSeen {
		t.Errorf("sender's own entry must stay seen")
	}
	if senderEntry.LastMessage != "hello bob" {
		t.Errorf("expected preview on sender entry, got %q", senderEntry.LastMessage)
	}

	peerEntry := chatIndex(t, f.Store, "u2").ChatData[0]
	if peerEntry.MessageSeen {
		t.Errorf("recipient entry must flip to unseen")
	}
	if peerEntry.LastMessage != "hello bob" {
		t.Errorf("expected preview on recipient entry, got %q", peerEntry.LastMessage)
	}
	if peerEntry.UpdatedAt == 0 {
		t.Errorf("fan-out must stamp updatedAt")
	}
}

func TestSendMessageMediaPreview(t *testing.T) {
	f, alice, _ := newPair(t)
	ctx := context.Background()

	msg, err := models.NewImageMessage("u1", "https://cdn/pic.png")
	if err != nil {
		t.Fatalf("NewImageMessage: %v", err)
	}
	if err := alice.SendMessage(ctx, "m1", msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := chatIndex(t, f.Store, "u2").ChatData[0].LastMessage; got != "🖼️ Image" {
		t.Errorf("expected image label preview, got %q", got)
	}
}

func TestSendMessageRejections(t *testing.T) {
	_, alice, _ := newPair(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		messagesID  string
		msg         models.Message
		expectedErr error
	}{
		{
			name:        "invalid message",
			messagesID:  "m1",
			msg:         models.Message{SID: "u1"},
			expectedErr: ErrInvalidMessage,
		},
		{
			name:        "forged sender",
			messagesID:  "m1",
			msg:         models.Message{SID: "u2", Text: "spoofed"},
			expectedErr: ErrNotAllowed,
		},
		{
			name:        "unknown conversation",
			messagesID:  "nope",
			msg:         models.Message{SID: "u1", Text: "hi"},
			expectedErr: ErrNotParticipant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := alice.SendMessage(ctx, tt.messagesID, tt.msg); !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %v", tt.expectedErr, err)
			}
		})
	}
}

func TestEditMessage(t *testing.T) {
	f, alice, bob := newPair(t)
	ctx := context.Background()

	msg, _ := models.NewTextMessage("u1", "draft")
	if err := alice.SendMessage(ctx, "m1", msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := bob.EditMessage(ctx, "m1", msg, "hijacked"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("non-author edit: expected ErrNotAllowed, got %v", err)
	}
	if err := alice.EditMessage(ctx, "m1", msg, ""); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("empty edit: expected ErrInvalidMessage, got %v", err)
	}
	if err := alice.EditMessage(ctx, "m1", models.Message{ID: "ghost"}, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("missing target: expected ErrMessageNotFound, got %v", err)
	}

	if err := alice.EditMessage(ctx, "m1", msg, "final"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	got := messageLog(t, f.Store, "m1").Messages[0]
	if got.Text != "final" || !got.Edited || got.EditedAt == 0 {
		t.Errorf("edit must rewrite text and stamp edited, got %+v", got)
	}
}

func TestEditMessageTextOnly(t *testing.T) {
	f, alice, _ := newPair(t)
	ctx := context.Background()

	img, _ := models.NewImageMessage("u1", "https://cdn/pic.png")
	if err := alice.SendMessage(ctx, "m1", img); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := alice.EditMessage(ctx, "m1", img, "caption"); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("media edit: expected ErrInvalidMessage, got %v", err)
	}
	if got := messageLog(t, f.Store, "m1").Messages[0]; got.Text != "" {
		t.Errorf("rejected edit must not change the record, got %+v", got)
	}
}

func TestDeleteMessage(t *testing.T) {
	f, alice, bob := newPair(t)
	ctx := context.Background()

	first, _ := models.NewTextMessage("u1", "first")
	second, _ := models.NewTextMessage("u1", "second")
	third, _ := models.NewTextMessage("u1", "third")
	for _, m := range []models.Message{first, second, third} {
		if err := alice.SendMessage(ctx, "m1", m); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	if err := bob.DeleteMessage(ctx, "m1", second); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("non-author delete: expected ErrNotAllowed, got %v", err)
	}
	if err := alice.DeleteMessage(ctx, "m1", models.Message{ID: "ghost"}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("missing target: expected ErrMessageNotFound, got %v", err)
	}

	if err := alice.DeleteMessage(ctx, "m1", second); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	msgs := messageLog(t, f.Store, "m1").Messages
	if len(msgs) != 2 || msgs[0].Text != "first" || msgs[1].Text != "third" {
		t.Errorf("delete must keep the rest in order, got %+v", msgs)
	}
}

func TestMarkSeen(t *testing.T) {
	f, alice, bob := newPair(t)
	ctx := context.Background()

	msg, _ := models.NewTextMessage("u1", "ping")
	if err := alice.SendMessage(ctx, "m1", msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if chatIndex(t, f.Store, "u2").ChatData[0].MessageSeen {
		t.Fatalf("precondition: bob must be unseen")
	}
	if err := bob.MarkSeen(ctx, "m1"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !chatIndex(t, f.Store, "u2").ChatData[0].MessageSeen {
		t.Errorf("MarkSeen must flip the caller's flag")
	}
	// the sender's copy is untouched
	if !chatIndex(t, f.Store, "u1").ChatData[0].MessageSeen {
		t.Errorf("MarkSeen must not touch other participants")
	}
}

func TestNormalizeMessages(t *testing.T) {
	input := []models.Message{
		{ID: "b", SID: "u2", Text: "later", CreatedAt: 200},
		{SID: "", Text: "no sender"},
		{ID: "x", SID: "u1"}, // no payload
		{SID: "u1", Text: "earlier", CreatedAt: 100},
		{ID: "z", SID: "u1", Text: "untimed"},
	}
	got := NormalizeMessages(input)
	if len(got) != 3 {
		t.Fatalf("expected 3 surviving messages, got %d", len(got))
	}
	if got[0].Text != "earlier" || got[1].Text != "later" {
		t.Errorf("expected ascending order, got %+v", got)
	}
	// the untimed record is defaulted to now and sorts last
	if got[2].Text != "untimed" || got[2].CreatedAt == 0 {
		t.Errorf("missing timestamps must be defaulted, got %+v", got[2])
	}
	if got[0].ID == "" {
		t.Errorf("missing ids must be synthesized")
	}
	// a second pass over an already clean list changes nothing
	again := NormalizeMessages(got)
	for i := range got {
		if again[i].ID != got[i].ID || again[i].CreatedAt != got[i].CreatedAt {
			t.Errorf("normalize must be stable on clean input")
		}
	}
}

func TestOpenChatIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	seedUser(t, st, "u2", "bob")
	alice := openSession(t, o, "u1")
	ctx := context.Background()

	entry, err := alice.OpenChat(ctx, "u2")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if entry.RID != "u2" || entry.MessagesID == "" || !entry.MessageSeen {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.UserData == nil || entry.UserData.Username != "bob" {
		t.Errorf("entry must carry the peer profile, got %+v", entry.UserData)
	}

	// both sides hold the conversation, referencing the same log
	if got := chatIndex(t, st, "u2").ChatData; len(got) != 1 || got[0].MessagesID != entry.MessagesID || got[0].RID != "u1" {
		t.Errorf("unexpected peer index %+v", got)
	}
	log := messageLog(t, st, entry.MessagesID)
	if len(log.Messages) != 0 || log.CreateAt == 0 {
		t.Errorf("fresh log must be empty and stamped, got %+v", log)
	}

	again, err := alice.OpenChat(ctx, "u2")
	if err != nil {
		t.Fatalf("second OpenChat: %v", err)
	}
	if again.MessagesID != entry.MessagesID {
		t.Errorf("reopening must return the existing conversation")
	}
	if got := chatIndex(t, st, "u1").ChatData; len(got) != 1 {
		t.Errorf("reopening must not duplicate entries, got %d", len(got))
	}
}

func TestOpenChatUnknownPeer(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	alice := openSession(t, o, "u1")

	if _, err := alice.OpenChat(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveContact(t *testing.T) {
	f, alice, _ := newPair(t)
	ctx := context.Background()

	if err := alice.RemoveContact(ctx, "m1"); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	if got := chatIndex(t, f.Store, "u1").ChatData; len(got) != 0 {
		t.Errorf("caller's entry must be gone, got %+v", got)
	}
	if got := chatIndex(t, f.Store, "u2").ChatData; len(got) != 0 {
		t.Errorf("peer's entry must be gone, got %+v", got)
	}
}

func TestRemoveContactRejectsGroups(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	seedChatIndex(t, st, "u1", models.ChatIndexEntry{MessagesID: "g1", RID: "g1", IsGroup: true})
	alice := openSession(t, o, "u1")

	if err := alice.RemoveContact(context.Background(), "g1"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed for group entries, got %v", err)
	}
}

func TestSearchUserIsCaseInsensitive(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	seedUser(t, st, "u2", "bob")
	alice := openSession(t, o, "u1")

	user, err := alice.SearchUser(context.Background(), "BOB")
	if err != nil {
		t.Fatalf("SearchUser: %v", err)
	}
	if user.ID != "u2" {
		t.Errorf("expected u2, got %+v", user)
	}
	if _, err := alice.SearchUser(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockUnblock(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	alice := openSession(t, o, "u1")
	ctx := context.Background()

	if err := alice.BlockUser(ctx, "u2"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if err := alice.BlockUser(ctx, "u2"); err != nil {
		t.Fatalf("repeat BlockUser: %v", err)
	}
	var stored models.User
	if err := st.Get(ctx, store.Users, "u1", &stored); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.BlockedUsers) != 1 || stored.BlockedUsers[0] != "u2" {
		t.Errorf("blocking twice must not duplicate, got %v", stored.BlockedUsers)
	}

	if err := alice.UnblockUser(ctx, "u2"); err != nil {
		t.Fatalf("UnblockUser: %v", err)
	}
	if err := st.Get(ctx, store.Users, "u1", &stored); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.BlockedUsers) != 0 {
		t.Errorf("expected empty block list, got %v", stored.BlockedUsers)
	}
}

func TestSubscribeChatIndexOrdering(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	seedUser(t, st, "u2", "bob")
	seedUser(t, st, "u3", "carol")
	seedChatIndex(t, st, "u1",
		models.ChatIndexEntry{MessagesID: "old", RID: "u2", UpdateAt: 100},
		models.ChatIndexEntry{MessagesID: "newest", RID: "u3", UpdateAt: 100, UpdatedAt: 300},
		models.ChatIndexEntry{MessagesID: "mid", RID: "gone", UpdatedAt: 200},
	)
	alice := openSession(t, o, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := alice.SubscribeChatIndex(ctx)
	if err != nil {
		t.Fatalf("SubscribeChatIndex: %v", err)
	}
	defer stop()

	select {
	case entries := <-ch:
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		// larger of the two stamps wins, descending
		if entries[0].MessagesID != "newest" || entries[1].MessagesID != "mid" || entries[2].MessagesID != "old" {
			t.Errorf("unexpected order: %s, %s, %s", entries[0].MessagesID, entries[1].MessagesID, entries[2].MessagesID)
		}
		if entries[0].UserData == nil || entries[0].UserData.Username != "carol" {
			t.Errorf("peer profile must be attached, got %+v", entries[0].UserData)
		}
		// a vanished peer yields a nil profile, not a dropped entry
		if entries[1].UserData != nil {
			t.Errorf("missing peer must yield nil UserData")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the initial chat list")
	}
}

func TestSubscribeMessagesEndsAfterCancel(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	alice := openSession(t, o, "u1")

	ch, stop, err := alice.SubscribeMessages(context.Background(), "m1")
	if err != nil {
		t.Fatalf("SubscribeMessages: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the initial snapshot")
	}

	// switching conversations cancels the old stream and then waits for it
	// to drain; the channel has to close or that wait never returns
	stop()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("message stream must end after cancel")
		}
	}
}

func TestSessionCloseEndsChatIndexStream(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	alice := openSession(t, o, "u1")

	ch, _, err := alice.SubscribeChatIndex(context.Background())
	if err != nil {
		t.Fatalf("SubscribeChatIndex: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the initial chat list")
	}

	alice.Close()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chat index stream must end when the session closes")
		}
	}
}

func TestSubscribeMessagesNormalizes(t *testing.T) {
	st := store.NewMemoryStore()
	o := NewOrchestrator(st, nil, nil)
	seedUser(t, st, "u1", "alice")
	err := st.Set(context.Background(), store.Messages, "m1", models.MessageLog{
		CreateAt: 1,
		Messages: []models.Message{
			{SID: "u2", Text: "second", CreatedAt: 200},
			{SID: "", Text: "broken"},
			{SID: "u1", Text: "first", CreatedAt: 100},
		},
	})
	if err != nil {
		t.Fatalf("seed log: %v", err)
	}
	alice := openSession(t, o, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := alice.SubscribeMessages(ctx, "m1")
	if err != nil {
		t.Fatalf("SubscribeMessages: %v", err)
	}
	defer stop()

	select {
	case msgs := <-ch:
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Text != "first" || msgs[1].Text != "second" {
			t.Errorf("expected ascending order, got %+v", msgs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the message snapshot")
	}
}
