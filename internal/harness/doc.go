// Package harness runs scripted ledger scenarios.
//
// A scenario drives a real ledger over a fresh in-memory store with a
// fake clock, checks each step's outcome, then asserts on final state.
// Scenario runs are deterministic, so their step traces can be compared
// against golden snapshots.
//
// # Scenario Format
//
//	name: duplicate_completion
//	description: "Concurrent completions credit once"
//	setup:
//	  - action: create_payment
//	    payment: pay_1
//	    user: user_A
//	    amount: "50.00"
//	flow:
//	  - action: complete_payment
//	    payment: pay_1
//	    user: user_A
//	    amount: "50.00"
//	    parallel: 10
//	    expect:
//	      outcomes: {ok: 1, duplicate: 9}
//	      balance: "50.00"
//	assertions:
//	  - type: final_balance
//	    user: user_A
//	    balance: "50.00"
//
// # Actions
//
//   - credit, debit: user, amount
//   - create_payment, complete_payment: payment, user, amount
//   - fail_payment, cancel_payment: payment
//   - create_promo: code, value, optional max_uses, inactive, expires_in
//   - redeem_promo: code, user
//   - advance_clock: duration
//
// # Outcomes
//
// ok, duplicate (a completion that found the payment already settled),
// insufficient_balance, invalid_amount, payment_not_found,
// payment_mismatch, invalid_transition, and the lower-cased promo
// rejection codes such as promo_expired.
//
// # Assertion Types
//
//   - final_balance: user's balance equals balance
//   - transaction_count: user has exactly count ledger entries
//   - payment_status: payment is in status
//   - promo_uses: promo code has been used count times
//   - ledger_consistent: user's balance equals the sum of their entries
package harness
