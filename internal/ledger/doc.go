// Package ledger owns user balances, payment intents and promo codes.
//
// Every balance change is a single guarded statement in the store plus
// an append-only transaction entry written in the same database
// transaction. There is no read-modify-write in Go code and no mutex:
//
//   - Debit applies only WHERE balance >= amount.
//   - A payment credits only on the pending -> succeeded transition this
//     call performed. Repeated or concurrent completions of the same
//     payment observe a terminal status and return Updated=false with the
//     current balance.
//   - A promo redemption is recorded per (code, user) and counted against
//     maxUses in the same transaction as its credit.
//
// Amounts are decimal.Decimal at the API and integer cents in storage.
// Amounts with more than two decimal places are rejected.
package ledger
