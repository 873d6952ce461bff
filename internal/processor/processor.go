// Package processor defines the contract between the workflow manager and
// per-stage processing logic, plus the deadline wrapper that converts a hung
// processor into a recorded incident instead of a stalled pipeline.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"packetwatch/internal/lifecycle"
	"packetwatch/internal/packet"
)

// TimeoutIncidentCode tags incidents produced when a stage processor exceeds
// its deadline.
const TimeoutIncidentCode = "WSR-TIMEOUT"

// Processor performs the external work for one pipeline stage. Process
// receives a packet snapshot and must honor ctx cancellation.
type Processor interface {
	Name() string
	Process(ctx context.Context, p *packet.Packet) error
}

// IncidentProvider lets a processor failure carry the incident that should be
// attached to the packet. Errors without one fall back to a generic incident.
type IncidentProvider interface {
	Incident() packet.Incident
}

// Failure wraps a processing error together with its incident.
type Failure struct {
	Err    error
	Detail packet.Incident
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Incident implements IncidentProvider.
func (f *Failure) Incident() packet.Incident { return f.Detail }

// Fail builds a Failure carrying the given incident.
func Fail(err error, inc packet.Incident) error {
	return &Failure{Err: err, Detail: inc}
}

// IncidentFor extracts the incident a processing error should record. The
// stage is always stamped from the packet's current stage.
func IncidentFor(err error, p *packet.Packet, stageName string) packet.Incident {
	var provider IncidentProvider
	if errors.As(err, &provider) {
		inc := provider.Incident()
		inc.Stage = p.CurrentStage
		if inc.Severity.Rank() < 0 {
			inc.Severity = packet.SeverityHigh
		}
		return inc
	}
	if errors.Is(err, lifecycle.ErrStageTimeout) {
		return TimeoutIncident(p, stageName)
	}
	return packet.Incident{
		Code:             "WSR-STAGE-FAILURE",
		Category:         "processing",
		Severity:         packet.SeverityHigh,
		Message:          fmt.Sprintf("%s failed", stageName),
		Description:      err.Error(),
		AutoRetryEnabled: true,
		Stage:            p.CurrentStage,
	}
}

// TimeoutIncident builds the critical incident recorded when a stage exceeds
// its deadline.
func TimeoutIncident(p *packet.Packet, stageName string) packet.Incident {
	return packet.Incident{
		Code:             TimeoutIncidentCode,
		Category:         "timeout",
		Severity:         packet.SeverityCritical,
		Message:          fmt.Sprintf("%s did not complete in time", stageName),
		Description:      "the stage processor exceeded its deadline and was abandoned",
		ResolutionHint:   "retry the stage or override once the upstream service recovers",
		AutoRetryEnabled: true,
		OverrideOptions:  []string{"Retry Stage", "Manual Override"},
		Stage:            p.CurrentStage,
	}
}

// Run executes a processor under a deadline. Deadline expiry is reported as
// ErrStageTimeout; other failures pass through unchanged so their incidents
// survive. The processor runs in its own goroutine so a processor that
// ignores cancellation still cannot hang the caller.
func Run(ctx context.Context, proc Processor, p *packet.Packet, timeout time.Duration) error {
	if proc == nil {
		return nil
	}
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- proc.Process(runCtx, p)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return lifecycle.Wrap(lifecycle.ErrStageTimeout, proc.Name(), "process", "deadline exceeded", err)
		}
		return err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return lifecycle.Wrap(lifecycle.ErrStageTimeout, proc.Name(), "process", "deadline exceeded", runCtx.Err())
		}
		return runCtx.Err()
	}
}
