// Package outbox makes multi-document fan-out writes resumable. The target
// store has no cross-document transaction, so a roster change that must touch
// N member documents can die half way through; an intent record written
// before the loop lets a later pass finish the remainder without applying any
// target twice.
package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Berhanu27/chat-app/internal/models"
	"github.com/Berhanu27/chat-app/internal/store"
)

// Collection holding pending intent documents, keyed by operation id.
const Collection = "outbox"

// Intent is one pending fan-out operation. Payload carries whatever the
// applier needs to redo the per-target mutation; appliers must be idempotent
// because a crash between applying a target and recording it replays that
// target.
type Intent struct {
	ID        string            `bson:"id" json:"id"`
	Kind      string            `bson:"kind" json:"kind"`
	Targets   []string          `bson:"targets" json:"targets"`
	Done      []string          `bson:"done" json:"done"`
	Payload   map[string]string `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt int64             `bson:"createdAt" json:"createdAt"`
}

func (in *Intent) done(target string) bool {
	for _, d := range in.Done {
		if d == target {
			return true
		}
	}
	return false
}

// Applier redoes the mutation for a single target document.
type Applier func(ctx context.Context, in Intent, target string) error

type Outbox struct {
	store store.Store
	log   *zap.SugaredLogger
}

func New(st store.Store, log *zap.SugaredLogger) *Outbox {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Outbox{store: st, log: log}
}

// Begin records the intent before any target is touched.
func (o *Outbox) Begin(ctx context.Context, kind string, targets []string, payload map[string]string) (*Intent, error) {
	in := &Intent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Targets:   targets,
		Payload:   payload,
		CreatedAt: models.NowMillis(),
	}
	if err := o.store.Set(ctx, Collection, in.ID, in); err != nil {
		return nil, fmt.Errorf("record intent: %w", err)
	}
	return in, nil
}

// Run applies the intent to every target not yet marked done, recording
// progress after each one, and removes the intent when all targets applied.
// On a mid-loop failure the intent stays behind for Resume; the caller gets
// the error and the store is left partially fanned out.
func (o *Outbox) Run(ctx context.Context, in *Intent, apply Applier) error {
	for _, target := range in.Targets {
		if in.done(target) {
			continue
		}
		if err := apply(ctx, *in, target); err != nil {
			o.log.Warnw("fan-out incomplete, affected documents may be partially synced",
				"op", in.ID, "kind", in.Kind, "target", target, "err", err)
			return fmt.Errorf("apply %s to %s: %w", in.Kind, target, err)
		}
		in.Done = append(in.Done, target)
		if err := o.store.Merge(ctx, Collection, in.ID, map[string]any{"done": in.Done}); err != nil {
			return fmt.Errorf("record progress for %s: %w", in.ID, err)
		}
	}
	return o.store.Delete(ctx, Collection, in.ID)
}

// Resume re-runs every pending intent. Call on startup, after the appliers
// are wired.
func (o *Outbox) Resume(ctx context.Context, apply Applier) error {
	ids, err := o.store.List(ctx, Collection)
	if err != nil {
		return fmt.Errorf("list pending intents: %w", err)
	}
	for _, id := range ids {
		var in Intent
		if err := o.store.Get(ctx, Collection, id, &in); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return err
		}
		o.log.Infow("resuming fan-out", "op", in.ID, "kind", in.Kind,
			"remaining", len(in.Targets)-len(in.Done))
		if err := o.Run(ctx, &in, apply); err != nil {
			return err
		}
	}
	return nil
}
