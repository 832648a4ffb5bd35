// Package orchestrator admits download requests one at a time. A request
// that arrives while a run is in flight is answered Busy at once; it is
// never queued.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/entrhq/dencho/pkg/automation"
	"github.com/entrhq/dencho/pkg/logging"
)

// Runner performs one retrieval run. *automation.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, opts automation.RunOptions) automation.Outcome
}

// Request is one download trigger.
type Request struct {
	// ID correlates the log lines of this request
	ID string

	// Credentials optionally override the configured ones for this run
	Credentials automation.Credentials
}

// Outcome is the orchestrator's answer: Busy, or the result of the run.
type Outcome struct {
	automation.Outcome
	Busy bool
}

// Succeeded reports whether a run was admitted and saved the invoice.
func (o Outcome) Succeeded() bool {
	return !o.Busy && o.Outcome.Succeeded()
}

// Orchestrator gates runs of a Runner.
type Orchestrator struct {
	gate   Gate
	runner Runner
	logger *logging.Logger
}

// New creates an orchestrator. A nil logger discards output.
func New(gate Gate, runner Runner, logger *logging.Logger) (*Orchestrator, error) {
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{gate: gate, runner: runner, logger: logger}, nil
}

// Active reports whether a run currently holds the gate.
func (o *Orchestrator) Active() bool {
	return o.gate.Held()
}

// RequestDownload runs the retrieval if no other run is active and returns
// its outcome. The gate is released when the run ends, including by panic.
func (o *Orchestrator) RequestDownload(ctx context.Context, req Request) Outcome {
	log := o.logger
	if req.ID != "" {
		log = log.WithRequest(req.ID)
	}

	if !o.gate.TryAcquire() {
		log.Warnf("download rejected: a run is already in progress")
		return Outcome{Busy: true}
	}
	defer o.gate.Release()

	log.Infof("download admitted")
	out := o.runner.Run(ctx, automation.RunOptions{
		Credentials: req.Credentials,
		Logger:      log.Component("automation"),
	})
	if out.Succeeded() {
		log.Infof("download finished")
	} else {
		log.Warnf("download failed: %s", out.Err.Kind)
	}
	return Outcome{Outcome: out}
}
