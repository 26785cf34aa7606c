// Package store is the document backend the whole application races on: a
// key-value collection of documents with per-key get, whole-document put,
// field merge and change subscription. Writes are last-writer-wins; nothing
// spans more than one document atomically.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection names. One document per user in Users and Chats, one per
// conversation in Messages, one per group in Groups.
const (
	Users    = "users"
	Chats    = "chats"
	Messages = "messages"
	Groups   = "groups"
)

var ErrNotFound = errors.New("store: document not found")

// Snapshot is one observed state of a document. A snapshot for a missing
// document has Exists=false; callers are expected to treat that as a normal
// outcome, not an error.
type Snapshot struct {
	Exists bool
	raw    bson.Raw
}

func NewSnapshot(raw bson.Raw) Snapshot {
	return Snapshot{Exists: raw != nil, raw: raw}
}

func (s Snapshot) Decode(out any) error {
	if !s.Exists {
		return ErrNotFound
	}
	return bson.Unmarshal(s.raw, out)
}

// Subscription is a continuous push feed for a single document. C yields the
// current state immediately and again after every write; Cancel (or the
// subscribing context ending) closes C, so ranging consumers terminate. A
// slow consumer loses intermediate snapshots but always receives the latest.
type Subscription struct {
	C      <-chan Snapshot
	cancel func()
}

func NewSubscription(c <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Store is the remote document store contract. Set overwrites the whole
// document (creating it if absent); Merge patches top-level fields of an
// existing document and fails with ErrNotFound otherwise, matching the
// update-vs-set split of the hosted backend this mirrors.
type Store interface {
	Get(ctx context.Context, col, id string, out any) error
	Set(ctx context.Context, col, id string, doc any) error
	Merge(ctx context.Context, col, id string, fields map[string]any) error
	Delete(ctx context.Context, col, id string) error

	// FindByField resolves the first document whose top-level field equals
	// value. Used for the username/email pre-write existence queries; the
	// check is not atomic with the subsequent write.
	FindByField(ctx context.Context, col, field string, value any, out any) error

	// List returns the ids of every document in a collection. Only small
	// bookkeeping collections (pending outbox intents) are listed.
	List(ctx context.Context, col string) ([]string, error)

	Subscribe(ctx context.Context, col, id string) (*Subscription, error)
}

// send delivers a snapshot without ever blocking a writer: when the buffer
// is full the oldest pending snapshot is dropped so the latest state still
// lands.
func send(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
