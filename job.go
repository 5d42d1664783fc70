package jobkeep

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Handler is a job's business logic: given its payload and a read-only
// reference to the runner's environment, do the work and report success
// or failure. Any error value is allowed — the runner only uses it for
// logging and retry bookkeeping.
type Handler[P any, E any] func(payload P, env *E) error

// ConnHandler is a job's business logic for handlers that also need the
// worker's open transaction (for example, to look up related rows in the
// same transaction that will delete or retry this job). The transaction
// handle is opaque; callers type-assert it to whatever concrete handle
// their Storage implementation hands back from Begin.
type ConnHandler[P any, E any] func(payload P, env *E, tx any) error

// Definition is what Register/RegisterWithConn return: a typed handle
// that can enqueue new jobs of this type. It carries no handler logic
// itself — dispatch always goes through the Registry, keyed by job type.
type Definition[P any, E any] struct {
	jobType string
}

// JobType returns the stable string tag this definition was registered
// under.
func (d *Definition[P, E]) JobType() string {
	return d.jobType
}

// Enqueue serializes payload and inserts a row via storage, tagged with
// this definition's job type. Pass a nil tx to enqueue standalone against
// the pool, or an open transaction handle to enqueue as part of a larger
// unit of work.
func (d *Definition[P, E]) Enqueue(ctx context.Context, storage Storage, tx any, payload P) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, &EnqueueError{Err: fmt.Errorf("failed to serialize payload: %w", err)}
	}

	id, err := storage.Enqueue(ctx, tx, d.jobType, data)
	if err != nil {
		return 0, &EnqueueError{Err: err}
	}

	return id, nil
}

// Register declares a job handler that takes only a payload and the
// runner's environment. jobType must be unique across every definition
// sharing environment type E; duplicates are reported by LoadRegistry.
func Register[P any, E any](jobType string, handler Handler[P, E]) *Definition[P, E] {
	registerVTable(jobVTable{
		envType: reflect.TypeFor[*E](),
		jobType: jobType,
		performFn: func(data json.RawMessage, env any, _ any) error {
			return invoke(jobType, data, env, handler)
		},
	})

	return &Definition[P, E]{jobType: jobType}
}

// RegisterWithConn declares a job handler that additionally receives the
// worker's open transaction handle. At most one connection-kind
// parameter is structurally possible here, since ConnHandler has exactly
// one tx argument — the ambiguity the source language's macro had to
// reject at compile time ("Multiple database connection arguments")
// cannot be expressed in this signature at all.
func RegisterWithConn[P any, E any](jobType string, handler ConnHandler[P, E]) *Definition[P, E] {
	registerVTable(jobVTable{
		envType: reflect.TypeFor[*E](),
		jobType: jobType,
		performFn: func(data json.RawMessage, env any, tx any) error {
			return invokeWithConn(jobType, data, env, tx, handler)
		},
	})

	return &Definition[P, E]{jobType: jobType}
}

func invoke[P any, E any](jobType string, data json.RawMessage, env any, handler Handler[P, E]) error {
	envPtr, ok := env.(*E)
	if !ok {
		return NewPerformError("Incorrect environment type.")
	}

	var payload P
	if err := json.Unmarshal(data, &payload); err != nil {
		return NewPerformError(fmt.Sprintf("failed to deserialize payload for job type %s: %v", jobType, err))
	}

	return handler(payload, envPtr)
}

func invokeWithConn[P any, E any](jobType string, data json.RawMessage, env any, tx any, handler ConnHandler[P, E]) error {
	envPtr, ok := env.(*E)
	if !ok {
		return NewPerformError("Incorrect environment type.")
	}

	var payload P
	if err := json.Unmarshal(data, &payload); err != nil {
		return NewPerformError(fmt.Sprintf("failed to deserialize payload for job type %s: %v", jobType, err))
	}

	return handler(payload, envPtr, tx)
}
