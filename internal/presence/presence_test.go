package presence

import (
	"context"
	"testing"
	"time"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

func TestIsOnline(t *testing.T) {
	now := int64(1_000_000_000)
	tests := []struct {
		name     string
		ageMs    int64
		expected bool
	}{
		{name: "just seen", ageMs: 0, expected: true},
		{name: "one minute old", ageMs: 60_000, expected: true},
		{name: "exactly at the threshold", ageMs: 70_000, expected: true},
		{name: "one millisecond past", ageMs: 70_001, expected: false},
		{name: "long gone", ageMs: 3_600_000, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOnline(now-tt.ageMs, now); got != tt.expected {
				t.Errorf("age %dms: expected %v, got %v", tt.ageMs, tt.expected, got)
			}
		})
	}
}

func TestUserOnline(t *testing.T) {
	if UserOnline(nil) {
		t.Errorf("nil user is never online")
	}
	u := &models.User{LastSeen: models.NowMillis()}
	if !UserOnline(u) {
		t.Errorf("a freshly seen user is online")
	}
	u.LastSeen = models.NowMillis() - 2*OnlineThreshold.Milliseconds()
	if UserOnline(u) {
		t.Errorf("a stale user is offline")
	}
}

func TestHeartbeatWritesLastSeen(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.Set(ctx, store.Users, "u1", models.User{ID: "u1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := StartHeartbeat(ctx, st, "u1", 10*time.Millisecond, nil)

	var user models.User
	deadline := time.Now().Add(time.Second)
	for {
		if err := st.Get(ctx, store.Users, "u1", &user); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if user.LastSeen != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never wrote lastSeen")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Stop()
	// Stop is idempotent and nil-safe
	h.Stop()
	var nilBeat *Heartbeat
	nilBeat.Stop()
}

func TestHeartbeatStopsOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore()
	bg := context.Background()
	if err := st.Set(bg, store.Users, "u1", models.User{ID: "u1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	h := StartHeartbeat(ctx, st, "u1", 5*time.Millisecond, nil)
	cancel()

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop must exit on context cancellation")
	}
}
