// Package sync keeps a client's view of the chat state consistent with the
// remote document store. It owns the two continuous subscriptions (the
// per-user chat index and the current conversation's message log) and
// serializes every outgoing mutation. Nothing here is transactional across
// documents; multi-document updates are sequences of independent
// read-modify-write calls and concurrent writers resolve last-writer-wins.
package sync

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/Berhanu27/chat-app/internal/events"
	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/presence"
	"github.com/Berhanu27/chat-app/internal/store"
)

type Orchestrator struct {
	store    store.Store
	producer *events.Producer
	log      *zap.SugaredLogger

	// HeartbeatInterval overrides the presence default when set. Configure
	// before the first OpenSession.
	HeartbeatInterval time.Duration
}

func NewOrchestrator(st store.Store, producer *events.Producer, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{store: st, producer: producer, log: log}
}

// Session is the per-user sync state, created on login and torn down on
// logout. It owns the user's presence heartbeat and every subscription
// opened through it, so Close reliably stops all background work.
type Session struct {
	UserID string
	User   models.User

	o         *Orchestrator
	heartbeat *presence.Heartbeat

	mu      gosync.Mutex
	cancels []func()
	closed  bool
}

// OpenSession loads the user's profile and starts the presence heartbeat.
func (o *Orchestrator) OpenSession(ctx context.Context, userID string) (*Session, error) {
	var user models.User
	if err := o.store.Get(ctx, store.Users, userID, &user); err != nil {
		return nil, err
	}
	s := &Session{UserID: userID, User: user, o: o}
	s.heartbeat = presence.StartHeartbeat(ctx, o.store, userID, o.HeartbeatInterval, o.log)
	return s, nil
}

/// Close tears the session down: heartbeat stopped, subscriptions cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	s.heartbeat.Stop()
	for _, c := range cancels {
		c()
	}
}

func (s *Session) track(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
}

// SubscribeChatIndex streams the user's conversation list, re-derived on
// every remote change for as long as the session is open. Each push carries
// the full list: non-group entries get a freshly fetched peer profile (a
// missing peer yields a nil UserData, never an error), group entries trust
// their embedded group snapshot. Ordering is most-recent activity first with
// stored order as the stable tiebreak.
func (s *Session) SubscribeChatIndex(ctx context.Context) (<-chan []models.ChatIndexEntry, func(), error) {
	sub, err := s.o.store.Subscribe(ctx, store.Chats, s.UserID)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []models.ChatIndexEntry, 1)
	go func() {
		defer close(out)
		for snap := range sub.C {
			var index models.ChatIndex
			if snap.Exists {
				if err := snap.Decode(&index); err != nil {
					s.o.log.Warnw("chat index decode failed", "user", s.UserID, "err", err)
					continue
				}
			}
			entries := s.o.enrichEntries(ctx, index.ChatData)
			select {
			case out <- entries:
			case <-ctx.Done():
				return
			}
		}
	}()
	s.track(sub.Cancel)
	return out, sub.Cancel, nil
}

func (o *Orchestrator) enrichEntries(ctx context.Context, entries []models.ChatIndexEntry) []models.ChatIndexEntry {
	enriched := make([]models.ChatIndexEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsGroup {
			var peer models.User
			switch err := o.store.Get(ctx, store.Users, entry.RID, &peer); err {
			case nil:
				entry.UserData = &peer
			case store.ErrNotFound:
				entry.UserData = nil
			default:
				o.log.Warnw("peer profile fetch failed", "peer", entry.RID, "err", err)
				entry.UserData = nil
			}
		}
		enriched = append(enriched, entry)
	}
	sort.SliceStable(enriched, func(i, j int) bool {
		return enriched[i].LastActivity() > enriched[j].LastActivity()
	})
	return enriched
}

// SubscribeMessages streams one conversation's full message list, replaced
// wholesale on every remote change. Malformed entries are dropped, missing
// timestamps default to now, missing ids get synthetic ones, and the result
// is ascending by creation time: the same list on every push as long as the
// document does not change.
func (s *Session) SubscribeMessages(ctx context.Context, messagesID string) (<-chan []models.Message, func(), error) {
	sub, err := s.o.store.Subscribe(ctx, store.Messages, messagesID)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []models.Message, 1)
	go func() {
		defer close(out)
		for snap := range sub.C {
			var log models.MessageLog
			if snap.Exists {
				if err := snap.Decode(&log); err != nil {
					s.o.log.Warnw("message log decode failed", "messagesId", messagesID, "err", err)
					continue
				}
			}
			select {
			case out <- NormalizeMessages(log.Messages):
			case <-ctx.Done():
				return
			}
		}
	}()
	s.track(sub.Cancel)
	return out, sub.Cancel, nil
}

// NormalizeMessages applies the snapshot hygiene rules: drop records without
// a sender or without exactly one content payload, default absent timestamps,
// assign synthetic ids, sort ascending by createdAt.
func NormalizeMessages(msgs []models.Message) []models.Message {
	valid := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Valid() {
			continue
		}
		if m.CreatedAt == 0 {
			m.CreatedAt = models.NowMillis()
		}
		if m.ID == "" {
			m.ID = models.SyntheticID(m.SID)
		}
		valid = append(valid, m)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].CreatedAt < valid[j].CreatedAt
	})
	return valid
}
