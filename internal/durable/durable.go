// Package durable provides the checkpointed step execution the pipeline
// controllers run on. Each named step's result is recorded once in a
// memoization store; replaying a run returns recorded results instead of
// re-executing side effects, which is what makes controller resumption
// idempotent after a crash or reschedule.
package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Store is the memo table the execution substrate persists. PutStep is
// first-writer-wins: it returns the recorded payload, which may differ
// from the attempted one when a concurrent replay got there first.
type Store interface {
	GetStep(ctx context.Context, runID, name string) ([]byte, bool, error)
	PutStep(ctx context.Context, runID, name string, payload []byte) ([]byte, error)
}

// SleepError signals that the run must suspend, without holding a worker,
// until Until passes. The worker parks the triggering task and re-invokes
// the controller afterwards; completed steps replay from the store.
type SleepError struct {
	Until time.Time
}

func (e *SleepError) Error() string {
	return fmt.Sprintf("durable: sleeping until %s", e.Until.Format(time.RFC3339))
}

// Permanent marks an error as not worth retrying at the step level
// (content rejections, malformed input). Transient provider failures are
// left unmarked and retried with backoff inside the step.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

const (
	stepAttempts = 3
	stepBaseWait = 500 * time.Millisecond
)

// Run is one durable workflow execution. The id must be stable for the
// logical workflow (e.g. derived from the order id), not the trigger, so
// redelivered triggers replay instead of re-executing.
type Run struct {
	ID    string
	Store Store
	Log   zerolog.Logger
	// Now is swappable for tests.
	Now func() time.Time
}

func NewRun(id string, store Store, log zerolog.Logger) *Run {
	return &Run{ID: id, Store: store, Log: log.With().Str("run_id", id).Logger(), Now: time.Now}
}

// Step executes fn at most once for this run, memoizing its JSON-encoded
// result under name. On replay the recorded result is returned without
// re-executing fn.
func Step[T any](ctx context.Context, r *Run, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	recorded, ok, err := r.Store.GetStep(ctx, r.ID, name)
	if err != nil {
		return zero, fmt.Errorf("step %s: read memo: %w", name, err)
	}
	if ok {
		var out T
		if err := json.Unmarshal(recorded, &out); err != nil {
			return zero, fmt.Errorf("step %s: decode memo: %w", name, err)
		}
		r.Log.Debug().Str("step", name).Msg("durable: replayed")
		return out, nil
	}

	var out T
	err = retry.Do(
		func() error {
			var ferr error
			out, ferr = fn(ctx)
			return ferr
		},
		retry.Context(ctx),
		retry.Attempts(stepAttempts),
		retry.Delay(stepBaseWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return zero, fmt.Errorf("step %s: %w", name, err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("step %s: encode result: %w", name, err)
	}
	stored, err := r.Store.PutStep(ctx, r.ID, name, payload)
	if err != nil {
		return zero, fmt.Errorf("step %s: record memo: %w", name, err)
	}
	// A concurrent replay may have recorded first; its result wins.
	if string(stored) != string(payload) {
		if err := json.Unmarshal(stored, &out); err != nil {
			return zero, fmt.Errorf("step %s: decode memo: %w", name, err)
		}
	}
	r.Log.Debug().Str("step", name).Msg("durable: recorded")
	return out, nil
}

// Do is Step for side effects without a result value.
func Do(ctx context.Context, r *Run, name string, fn func(context.Context) error) error {
	_, err := Step(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep suspends the run for d, measured from the first time this named
// sleep executes. It returns a *SleepError until the recorded deadline
// passes, then nil on replay.
func (r *Run) Sleep(ctx context.Context, name string, d time.Duration) error {
	recorded, ok, err := r.Store.GetStep(ctx, r.ID, name)
	if err != nil {
		return fmt.Errorf("sleep %s: read memo: %w", name, err)
	}
	var until time.Time
	if ok {
		if err := json.Unmarshal(recorded, &until); err != nil {
			return fmt.Errorf("sleep %s: decode memo: %w", name, err)
		}
	} else {
		until = r.Now().Add(d)
		payload, _ := json.Marshal(until)
		stored, err := r.Store.PutStep(ctx, r.ID, name, payload)
		if err != nil {
			return fmt.Errorf("sleep %s: record memo: %w", name, err)
		}
		if err := json.Unmarshal(stored, &until); err != nil {
			return fmt.Errorf("sleep %s: decode memo: %w", name, err)
		}
	}
	if r.Now().Before(until) {
		return &SleepError{Until: until}
	}
	return nil
}
