package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Step actions.
const (
	ActionCredit          = "credit"
	ActionDebit           = "debit"
	ActionCreatePayment   = "create_payment"
	ActionCompletePayment = "complete_payment"
	ActionFailPayment     = "fail_payment"
	ActionCancelPayment   = "cancel_payment"
	ActionCreatePromo     = "create_promo"
	ActionRedeemPromo     = "redeem_promo"
	ActionAdvanceClock    = "advance_clock"
)

// Assertion types.
const (
	AssertFinalBalance     = "final_balance"
	AssertTransactionCount = "transaction_count"
	AssertPaymentStatus    = "payment_status"
	AssertPromoUses        = "promo_uses"
	AssertLedgerConsistent = "ledger_consistent"
)

// Scenario is a scripted sequence of ledger operations with expected
// outcomes and final-state assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup steps must all succeed with outcome ok.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence. Each step may carry an expect clause.
	Flow []Step `yaml:"flow"`

	// Assertions are checked after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one ledger operation. Which fields apply depends on Action.
type Step struct {
	Action  string `yaml:"action"`
	User    string `yaml:"user,omitempty"`
	Amount  string `yaml:"amount,omitempty"`
	Payment string `yaml:"payment,omitempty"`

	// create_promo / redeem_promo
	Code      string `yaml:"code,omitempty"`
	Value     string `yaml:"value,omitempty"`
	MaxUses   int64  `yaml:"max_uses,omitempty"`
	Inactive  bool   `yaml:"inactive,omitempty"`
	ExpiresIn string `yaml:"expires_in,omitempty"` // relative to the scenario clock

	// advance_clock
	Duration string `yaml:"duration,omitempty"`

	// Parallel runs the step this many times concurrently. Outcomes are
	// then checked as counts.
	Parallel int `yaml:"parallel,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected result of a step.
type Expect struct {
	// Outcome is the expected outcome of a sequential step.
	Outcome string `yaml:"outcome,omitempty"`

	// Outcomes counts expected outcomes of a parallel step.
	Outcomes map[string]int `yaml:"outcomes,omitempty"`

	// Balance is the user's balance right after the step.
	Balance string `yaml:"balance,omitempty"`
}

// Assertion checks final state.
type Assertion struct {
	Type    string `yaml:"type"`
	User    string `yaml:"user,omitempty"`
	Payment string `yaml:"payment,omitempty"`
	Code    string `yaml:"code,omitempty"`
	Balance string `yaml:"balance,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Count   *int   `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, sorted.
// A non-empty filter is a glob matched against the file name without
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Setup {
		if err := validateStep(&s.Setup[i]); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if s.Setup[i].Parallel > 1 {
			return fmt.Errorf("setup[%d]: parallel is not allowed in setup", i)
		}
	}
	for i := range s.Flow {
		if err := validateStep(&s.Flow[i]); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st *Step) error {
	require := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s is required for %s", field, st.Action)
		}
		return nil
	}
	amount := func(field, value string) error {
		if err := require(field, value); err != nil {
			return err
		}
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("%s %q is not a number", field, value)
		}
		return nil
	}

	var err error
	switch st.Action {
	case "":
		return fmt.Errorf("action is required")
	case ActionCredit, ActionDebit:
		err = firstErr(require("user", st.User), amount("amount", st.Amount))
	case ActionCreatePayment, ActionCompletePayment:
		err = firstErr(require("payment", st.Payment), require("user", st.User), amount("amount", st.Amount))
	case ActionFailPayment, ActionCancelPayment:
		err = require("payment", st.Payment)
	case ActionCreatePromo:
		err = firstErr(require("code", st.Code), amount("value", st.Value))
		if err == nil && st.MaxUses < 0 {
			err = fmt.Errorf("max_uses must be non-negative")
		}
		if err == nil && st.ExpiresIn != "" {
			if _, perr := time.ParseDuration(st.ExpiresIn); perr != nil {
				err = fmt.Errorf("expires_in: %w", perr)
			}
		}
	case ActionRedeemPromo:
		err = firstErr(require("code", st.Code), require("user", st.User))
	case ActionAdvanceClock:
		if err = require("duration", st.Duration); err == nil {
			d, perr := time.ParseDuration(st.Duration)
			if perr != nil {
				err = fmt.Errorf("duration: %w", perr)
			} else if d <= 0 {
				err = fmt.Errorf("duration must be positive")
			}
		}
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	if err != nil {
		return err
	}

	if st.Parallel < 0 {
		return fmt.Errorf("parallel must be non-negative")
	}
	if st.Parallel > 1 && st.Action == ActionAdvanceClock {
		return fmt.Errorf("advance_clock cannot run in parallel")
	}
	if st.Expect != nil {
		if st.Parallel > 1 && st.Expect.Outcome != "" {
			return fmt.Errorf("parallel steps expect outcomes, not outcome")
		}
		if st.Parallel <= 1 && st.Expect.Outcomes != nil {
			return fmt.Errorf("outcomes requires parallel > 1")
		}
		if st.Expect.Balance != "" {
			if st.User == "" {
				return fmt.Errorf("expect.balance requires a user")
			}
			if _, err := decimal.NewFromString(st.Expect.Balance); err != nil {
				return fmt.Errorf("expect.balance %q is not a number", st.Expect.Balance)
			}
		}
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertFinalBalance:
		if a.User == "" || a.Balance == "" {
			return fmt.Errorf("user and balance are required for final_balance")
		}
		if _, err := decimal.NewFromString(a.Balance); err != nil {
			return fmt.Errorf("balance %q is not a number", a.Balance)
		}
	case AssertTransactionCount:
		if a.User == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("user and a non-negative count are required for transaction_count")
		}
	case AssertPaymentStatus:
		if a.Payment == "" || a.Status == "" {
			return fmt.Errorf("payment and status are required for payment_status")
		}
	case AssertPromoUses:
		if a.Code == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("code and a non-negative count are required for promo_uses")
		}
	case AssertLedgerConsistent:
		if a.User == "" {
			return fmt.Errorf("user is required for ledger_consistent")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
