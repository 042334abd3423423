package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/ledger"
	"github.com/roach88/fandomvelocity/internal/store"
	"github.com/roach88/fandomvelocity/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs scenarios against a real ledger with a fake clock.
type Harness struct {
	ledger *ledger.Ledger
	clock  *testutil.FakeClock
	logger *slog.Logger

	// users in first-seen order
	users []string
	seen  map[string]bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with
// the clock fixed at testutil.DefaultStart.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Execute setup steps, which must all succeed
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions and collect final balances
//
// A failed expectation is reported in Result.Errors. Run returns an
// error only when the scenario could not be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clk := testutil.NewDefaultFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	h := &Harness{
		ledger: ledger.New(st, ledger.WithClock(clk), ledger.WithLogger(logger)),
		clock:  clk,
		logger: logger,
		seen:   make(map[string]bool),
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Setup {
		sr, err := h.executeStep(ctx, PhaseSetup, i, step)
		if err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
		if sr.Outcome != OutcomeOK {
			return nil, fmt.Errorf("failed to execute setup: step %d (%s) returned %s", i, step.Action, sr.Outcome)
		}
		result.Steps = append(result.Steps, sr)
	}

	for i, step := range scenario.Flow {
		sr, err := h.executeStep(ctx, PhaseFlow, i, step)
		if err != nil {
			return nil, fmt.Errorf("failed to execute flow: %w", err)
		}
		result.Steps = append(result.Steps, sr)
		for _, msg := range checkExpect(i, step, sr) {
			result.AddError(msg)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h.ledger, scenario.Assertions) {
		result.AddError(msg)
	}

	for _, user := range h.users {
		b, err := h.ledger.Balance(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("failed to read final balance of %s: %w", user, err)
		}
		result.Balances[user] = b.Balance.StringFixed(2)
	}

	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, phase string, index int, step Step) (StepResult, error) {
	if step.User != "" && !h.seen[step.User] {
		h.seen[step.User] = true
		h.users = append(h.users, step.User)
	}

	sr := StepResult{Phase: phase, Index: index, Action: step.Action}

	if step.Parallel > 1 {
		outcomes, err := h.executeParallel(ctx, step)
		if err != nil {
			return StepResult{}, fmt.Errorf("step %d (%s): %w", index, step.Action, err)
		}
		sr.Outcomes = outcomes
	} else {
		outcome, err := h.apply(ctx, step)
		if err != nil {
			return StepResult{}, fmt.Errorf("step %d (%s): %w", index, step.Action, err)
		}
		sr.Outcome = outcome
	}

	if step.User != "" {
		b, err := h.ledger.Balance(ctx, step.User)
		if err != nil {
			return StepResult{}, err
		}
		sr.Balance = b.Balance.StringFixed(2)
	}

	h.logger.Info("step completed",
		"phase", phase,
		"step", index,
		"action", step.Action,
		"outcome", sr.Outcome)
	return sr, nil
}

func (h *Harness) executeParallel(ctx context.Context, step Step) (map[string]int, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[string]int)
		firstErr error
	)
	for range step.Parallel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.apply(ctx, step)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			outcomes[outcome]++
		}()
	}
	wg.Wait()
	return outcomes, firstErr
}

// apply runs one ledger operation and classifies its result.
func (h *Harness) apply(ctx context.Context, step Step) (string, error) {
	switch step.Action {
	case ActionCredit:
		_, err := h.ledger.Credit(ctx, step.User, decimal.RequireFromString(step.Amount), "scenario credit")
		return classify(err)

	case ActionDebit:
		_, err := h.ledger.Debit(ctx, step.User, decimal.RequireFromString(step.Amount), "scenario debit")
		return classify(err)

	case ActionCreatePayment:
		_, err := h.ledger.CreatePayment(ctx, step.Payment, step.User, decimal.RequireFromString(step.Amount))
		return classify(err)

	case ActionCompletePayment:
		out, err := h.ledger.ProcessPaymentBalance(ctx, step.Payment, step.User, decimal.RequireFromString(step.Amount))
		if err == nil && !out.Updated {
			return OutcomeDuplicate, nil
		}
		return classify(err)

	case ActionFailPayment:
		_, err := h.ledger.FailPayment(ctx, step.Payment)
		return classify(err)

	case ActionCancelPayment:
		_, err := h.ledger.CancelPayment(ctx, step.Payment)
		return classify(err)

	case ActionCreatePromo:
		p := ledger.PromoCode{
			Code:     step.Code,
			Value:    decimal.RequireFromString(step.Value),
			MaxUses:  step.MaxUses,
			IsActive: !step.Inactive,
		}
		if step.ExpiresIn != "" {
			d, _ := time.ParseDuration(step.ExpiresIn) // validated on load
			at := h.clock.Now().Add(d)
			p.ExpiresAt = &at
		}
		return classify(h.ledger.CreatePromo(ctx, p))

	case ActionRedeemPromo:
		_, err := h.ledger.RedeemPromo(ctx, step.Code, step.User)
		return classify(err)

	case ActionAdvanceClock:
		d, _ := time.ParseDuration(step.Duration)
		h.clock.Advance(d)
		return OutcomeOK, nil
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

// classify maps ledger errors to outcomes. Errors that are not business
// rejections are returned as is.
func classify(err error) (string, error) {
	if err == nil {
		return OutcomeOK, nil
	}
	if code := ledger.PromoErrorCodeOf(err); code != "" {
		return strings.ToLower(string(code)), nil
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return OutcomeInsufficientBalance, nil
	case errors.Is(err, ledger.ErrInvalidAmount):
		return OutcomeInvalidAmount, nil
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return OutcomePaymentNotFound, nil
	case errors.Is(err, ledger.ErrPaymentMismatch):
		return OutcomePaymentMismatch, nil
	case errors.Is(err, ledger.ErrInvalidTransition):
		return OutcomeInvalidTransition, nil
	}
	return "", err
}

func checkExpect(index int, step Step, sr StepResult) []string {
	if step.Expect == nil {
		return nil
	}
	var errs []string
	prefix := fmt.Sprintf("flow[%d] %s", index, step.Action)

	if step.Expect.Outcome != "" && step.Expect.Outcome != sr.Outcome {
		errs = append(errs, fmt.Sprintf("%s: expected outcome %q, got %q", prefix, step.Expect.Outcome, sr.Outcome))
	}
	if step.Expect.Outcomes != nil {
		for _, outcome := range slices.Sorted(maps.Keys(step.Expect.Outcomes)) {
			want := step.Expect.Outcomes[outcome]
			if got := sr.Outcomes[outcome]; got != want {
				errs = append(errs, fmt.Sprintf("%s: expected %d x %q, got %d", prefix, want, outcome, got))
			}
		}
		for _, outcome := range slices.Sorted(maps.Keys(sr.Outcomes)) {
			got := sr.Outcomes[outcome]
			if _, listed := step.Expect.Outcomes[outcome]; !listed {
				errs = append(errs, fmt.Sprintf("%s: unexpected outcome %q (%d times)", prefix, outcome, got))
			}
		}
	}
	if step.Expect.Balance != "" {
		want := decimal.RequireFromString(step.Expect.Balance)
		got, _ := decimal.NewFromString(sr.Balance)
		if !got.Equal(want) {
			errs = append(errs, fmt.Sprintf("%s: expected balance %s, got %s", prefix, want.StringFixed(2), sr.Balance))
		}
	}
	return errs
}
