package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNilTask is the one programming-error case Execute reports.
var ErrNilTask = errors.New("dispatch: nil task")

// errInvalidResult marks a provider call that returned but whose output
// the validator rejected. It counts as a failure like any other.
var errInvalidResult = errors.New("dispatch: response rejected by validator")

// AttemptOutcome classifies one entry in a Result's attempt log.
type AttemptOutcome string

const (
	// AttemptFailed means the provider was invoked and failed (error or
	// rejected output).
	AttemptFailed AttemptOutcome = "failed"
	// AttemptSkipped means the provider was disabled and never invoked.
	// Skips do not count against the provider's failure counter.
	AttemptSkipped AttemptOutcome = "skipped"
)

// Attempt records one provider that did not satisfy the dispatch.
type Attempt struct {
	Provider string         `json:"provider"`
	Outcome  AttemptOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`
}

// Result is the outcome of one dispatch. Output is always non-empty;
// Degraded marks output produced by the BasicResponder because no provider
// succeeded.
type Result struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider,omitempty"`
	Output    string        `json:"output"`
	Degraded  bool          `json:"degraded"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
	Elapsed   time.Duration `json:"-"`
}

// Dispatcher executes a Task against providers in priority order until one
// produces an acceptable result or all are exhausted. Dispatch is strictly
// sequential; providers are never tried concurrently within one call.
type Dispatcher struct {
	registry  *Registry
	validator *Validator
	basic     *BasicResponder
	logger    zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(reg *Registry, val *Validator, basic *BasicResponder, logger zerolog.Logger) *Dispatcher {
	if val == nil {
		val = NewValidator(0)
	}
	if basic == nil {
		basic = NewBasicResponder()
	}
	return &Dispatcher{
		registry:  reg,
		validator: val,
		basic:     basic,
		logger:    logger,
	}
}

// Registry returns the dispatcher's provider registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs the task against the registry's providers in priority
// order. Provider errors and rejected outputs are recorded against that
// provider and the next one is tried; they never surface to the caller.
// When every provider has failed or is disabled (including an empty
// registry), the BasicResponder supplies a degraded output.
//
// The returned error is non-nil only for a nil task or when ctx is
// cancelled; in the cancellation case the Result is still populated with a
// degraded output and Cancelled set.
func (d *Dispatcher) Execute(ctx context.Context, task *Task) (*Result, error) {
	if task == nil {
		return nil, ErrNilTask
	}

	start := time.Now()
	res := &Result{ID: uuid.New().String()}
	logger := d.logger.With().
		Str("dispatch_id", res.ID).
		Str("category", string(task.Category)).
		Logger()

	for _, inv := range d.registry.Ordered() {
		name := inv.Name()

		if err := ctx.Err(); err != nil {
			return d.cancelled(res, task, start), err
		}

		if !d.registry.Available(name) {
			res.Attempts = append(res.Attempts, Attempt{Provider: name, Outcome: AttemptSkipped})
			logger.Debug().Str("provider", name).Msg("provider disabled, skipping")
			continue
		}

		logger.Debug().Str("provider", name).Msg("trying provider")
		raw, err := inv.Invoke(ctx, task)

		// A cancelled caller context is not the provider's fault; stop
		// the chain without counting a failure.
		if cerr := ctx.Err(); cerr != nil {
			return d.cancelled(res, task, start), cerr
		}

		if err == nil && !d.validator.IsAcceptable(task, raw) {
			err = errInvalidResult
		}
		if err != nil {
			count := d.registry.MarkFailure(name, err)
			res.Attempts = append(res.Attempts, Attempt{
				Provider: name,
				Outcome:  AttemptFailed,
				Error:    err.Error(),
			})
			logger.Warn().Err(err).
				Str("provider", name).
				Int("consecutive_failures", count).
				Msg("provider failed, trying next")
			continue
		}

		d.registry.MarkSuccess(name)
		res.Provider = name
		res.Output = strings.TrimSpace(raw)
		res.Elapsed = time.Since(start)
		logger.Info().
			Str("provider", name).
			Int("output_len", len(res.Output)).
			Dur("elapsed", res.Elapsed).
			Msg("dispatch satisfied")
		return res, nil
	}

	res.Degraded = true
	res.Output = d.basic.Respond(task)
	res.Elapsed = time.Since(start)
	logger.Warn().
		Int("attempts", len(res.Attempts)).
		Msg("all providers exhausted, returning basic response")
	return res, nil
}

// cancelled finalises a result when the caller's context ended mid-chain.
func (d *Dispatcher) cancelled(res *Result, task *Task, start time.Time) *Result {
	res.Cancelled = true
	res.Degraded = true
	res.Output = d.basic.Respond(task)
	res.Elapsed = time.Since(start)
	return res
}
