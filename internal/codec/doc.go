// Package codec compresses and decompresses single record payloads.
//
// Payloads larger than the compression threshold (1024 bytes by default)
// are gzip-compressed on encode; smaller payloads are stored as-is.
// Every new encode carries an explicit Compression tag.
//
// # Decoding
//
// Decode accepts three input shapes:
//   - Tagged gzip data (Compression = gzip)
//   - Untagged legacy data whose first two bytes are the gzip magic
//     number 0x1F 0x8B
//   - Plain values, passed through unchanged
//
// Magic-byte and base64 sniffing apply only to legacy rows that carry no
// tag (CompressionLegacy). They exist for records written before tags
// were introduced, or by external writers.
//
// When gunzip fails, Decode tries once more treating the value as a
// base64-encoded gzip stream (leading token "H4s"). If that also fails,
// the raw stored bytes are returned with OutcomeRawFallback. Decode never
// returns an error; callers branch on Result.Outcome.
package codec
