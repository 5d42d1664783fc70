package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jobkeep/jobkeep"
)

// Env is the shared, read-only environment every registered job handler
// receives alongside its payload. InstanceID identifies this runner
// process in structured logs, letting an operator correlate which
// process dispatched a given job when several run side by side.
type Env struct {
	Logger     *slog.Logger
	Storage    jobkeep.Storage
	InstanceID string
}

// NewEnv builds the Env shared by one runner process.
func NewEnv(logger *slog.Logger, storage jobkeep.Storage) *Env {
	return &Env{
		Logger:     logger,
		Storage:    storage,
		InstanceID: uuid.NewString(),
	}
}

// LogMessagePayload is the payload for jobkeepctl.log_message, the
// simplest possible demonstration job: it just logs its message and
// succeeds.
type LogMessagePayload struct {
	Message string `json:"message"`
}

var logMessageJob = jobkeep.Register("jobkeepctl.log_message", func(p LogMessagePayload, env *Env) error {
	env.Logger.Info("log_message job ran", "message", p.Message, "runner_instance", env.InstanceID)
	return nil
})

// ChainPayload is the payload for jobkeepctl.chain: a demonstration
// ConnHandler job that enqueues a follow-up job in the same transaction
// it was dispatched from, so the follow-up becomes visible only if this
// job's own commit succeeds.
type ChainPayload struct {
	NextJobType    string          `json:"next_job_type"`
	NextJobPayload json.RawMessage `json:"next_job_payload"`
}

var chainJob = jobkeep.RegisterWithConn("jobkeepctl.chain", func(p ChainPayload, env *Env, tx any) error {
	if p.NextJobType == "" {
		return nil
	}
	_, err := env.Storage.Enqueue(context.Background(), tx, p.NextJobType, p.NextJobPayload)
	return err
})
