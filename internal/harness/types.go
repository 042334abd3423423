package harness

// Step outcomes. Promo rejections use the lower-cased promo error code,
// e.g. promo_expired.
const (
	OutcomeOK                  = "ok"
	OutcomeDuplicate           = "duplicate"
	OutcomeInsufficientBalance = "insufficient_balance"
	OutcomeInvalidAmount       = "invalid_amount"
	OutcomePaymentNotFound     = "payment_not_found"
	OutcomePaymentMismatch     = "payment_mismatch"
	OutcomeInvalidTransition   = "invalid_transition"
)

// Phase names in the step trace.
const (
	PhaseSetup = "setup"
	PhaseFlow  = "flow"
)

// StepResult is what one step did.
type StepResult struct {
	Phase    string         `json:"phase"`
	Index    int            `json:"index"`
	Action   string         `json:"action"`
	Outcome  string         `json:"outcome,omitempty"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
	Balance  string         `json:"balance,omitempty"` // user's balance after the step
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Steps is the ordered step trace, used for golden comparison.
	Steps []StepResult `json:"steps"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Balances holds the final balance of every user the scenario touched.
	Balances map[string]string `json:"balances"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Steps:    []StepResult{},
		Errors:   []string{},
		Balances: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
