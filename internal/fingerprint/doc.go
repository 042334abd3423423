// Package fingerprint deduplicates expensive operations by content.
//
// A fingerprint is the BLAKE3 hash of an operation name plus the
// canonical JSON of its input (see Compute). Cache maps fingerprints to
// previously computed results in the document store.
//
// Expiry rules:
//   - An entry with an explicit expiry is live while now < expiresAt.
//   - An entry without one is live for the cache's default retention
//     (30 days unless configured) from createdAt.
//   - An expired entry reads exactly like a miss, and the read evicts it
//     unless a concurrent Put has replaced it in the meantime.
//
// Put always replaces the entry for a fingerprint.
package fingerprint
