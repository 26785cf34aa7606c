package store

import (
	"context"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore keeps documents in process memory with the same semantics as
// the Mongo-backed store. It backs tests and single-node development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]bson.Raw // collection -> id -> document
	subs map[string][]*memorySub        // collection/id -> listeners
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]bson.Raw),
		subs: make(map[string][]*memorySub),
	}
}

// memorySub guards its channel so a writer racing a cancellation can never
// send on a closed channel.
type memorySub struct {
	mu     sync.Mutex
	closed bool
	ch     chan Snapshot
}

func (l *memorySub) emit(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	send(l.ch, snap)
}

func (l *memorySub) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

func docKey(col, id string) string { return col + "/" + id }

func (s *MemoryStore) Get(ctx context.Context, col, id string, out any) error {
	s.mu.RLock()
	raw, ok := s.docs[col][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return bson.Unmarshal(raw, out)
}

func (s *MemoryStore) Set(ctx context.Context, col, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.docs[col] == nil {
		s.docs[col] = make(map[string]bson.Raw)
	}
	s.docs[col][id] = raw
	listeners := append([]*memorySub(nil), s.subs[docKey(col, id)]...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.emit(NewSnapshot(raw))
	}
	return nil
}

func (s *MemoryStore) Merge(ctx context.Context, col, id string, fields map[string]any) error {
	s.mu.Lock()
	raw, ok := s.docs[col][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		s.mu.Unlock()
		return err
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := bson.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[col][id] = merged
	listeners := append([]*memorySub(nil), s.subs[docKey(col, id)]...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.emit(NewSnapshot(merged))
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, col, id string) error {
	s.mu.Lock()
	delete(s.docs[col], id)
	listeners := append([]*memorySub(nil), s.subs[docKey(col, id)]...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.emit(NewSnapshot(nil))
	}
	return nil
}

func (s *MemoryStore) FindByField(ctx context.Context, col, field string, value any, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, raw := range s.docs[col] {
		v := raw.Lookup(field)
		if v.Validate() != nil {
			continue
		}
		if str, ok := value.(string); ok {
			if sv, okStr := v.StringValueOK(); okStr && sv == str {
				return bson.Unmarshal(raw, out)
			}
			continue
		}
		var got any
		if err := v.Unmarshal(&got); err == nil && reflect.DeepEqual(got, value) {
			return bson.Unmarshal(raw, out)
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, col string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs[col]))
	for id := range s.docs[col] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, col, id string) (*Subscription, error) {
	sub := &memorySub{ch: make(chan Snapshot, 16)}
	key := docKey(col, id)

	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	raw := s.docs[col][id]
	s.mu.Unlock()

	// initial state, like the first snapshot of a remote listener
	sub.emit(NewSnapshot(raw))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			listeners := s.subs[key]
			for i, l := range listeners {
				if l == sub {
					s.subs[key] = append(listeners[:i], listeners[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			sub.close()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return NewSubscription(sub.ch, cancel), nil
}
