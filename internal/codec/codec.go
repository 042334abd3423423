package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Binary format constants.
const (
	// DefaultThreshold is the serialized payload size above which
	// payloads are compressed.
	DefaultThreshold = 1024

	// Base64GzipToken is the leading text of a base64-encoded gzip stream
	// (base64 of 0x1F 0x8B 0x08).
	Base64GzipToken = "H4s"
)

// gzipMagic identifies a gzip stream.
var gzipMagic = []byte{0x1F, 0x8B}

// Compression identifies how a stored payload is encoded.
// The string values are persisted in the store's compression column.
type Compression string

const (
	// CompressionLegacy marks rows written without a tag. Decode sniffs
	// these for gzip magic bytes and base64 gzip text.
	CompressionLegacy Compression = ""

	// CompressionNone marks payloads stored verbatim.
	CompressionNone Compression = "none"

	// CompressionGzip marks gzip-compressed payloads, including chunks
	// that are slices of one gzip stream.
	CompressionGzip Compression = "gzip"
)

// String returns the human-readable name of a compression tag.
func (c Compression) String() string {
	if c == CompressionLegacy {
		return "legacy"
	}
	return string(c)
}

// ParseCompression parses a persisted compression tag.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "":
		return CompressionLegacy, nil
	case "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	default:
		return "", fmt.Errorf("unknown compression tag: %q", name)
	}
}

// Outcome tells callers how a payload was materialized.
type Outcome uint8

const (
	// OutcomeDecoded means the payload was decoded as intended.
	OutcomeDecoded Outcome = iota

	// OutcomeRawFallback means decompression failed and the raw stored
	// bytes were returned unmodified.
	OutcomeRawFallback

	// OutcomeUnavailable means the payload could not be produced at all
	// (for example a chunk group with missing chunks).
	OutcomeUnavailable
)

// String returns the outcome name used in logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "decoded"
	case OutcomeRawFallback:
		return "raw_fallback"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// Encoded is the physical form of a payload.
type Encoded struct {
	Data        []byte
	Compression Compression
}

// Result is the materialized form of a stored payload.
type Result struct {
	Payload []byte
	Outcome Outcome

	// Err records why a fallback happened. Nil for OutcomeDecoded.
	Err error
}

// Codec encodes and decodes payloads. The zero value is not usable;
// construct with New.
type Codec struct {
	threshold int
	level     int
}

// Option configures a Codec.
type Option func(*Codec)

// WithThreshold sets the size above which payloads are compressed.
func WithThreshold(n int) Option {
	return func(c *Codec) {
		c.threshold = n
	}
}

// WithLevel sets the gzip compression level.
func WithLevel(level int) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// New creates a Codec with DefaultThreshold and gzip.DefaultCompression.
func New(opts ...Option) *Codec {
	c := &Codec{
		threshold: DefaultThreshold,
		level:     gzip.DefaultCompression,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the compression threshold in bytes.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Encode compresses payload when it is larger than the threshold.
// Payloads at or below the threshold are returned unchanged with
// CompressionNone.
func (c *Codec) Encode(payload []byte) (Encoded, error) {
	if len(payload) <= c.threshold {
		return Encoded{Data: payload, Compression: CompressionNone}, nil
	}

	compressed, err := c.gzip(payload)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode: %w", err)
	}
	return Encoded{Data: compressed, Compression: CompressionGzip}, nil
}

// Decode materializes a stored payload. It never fails: decode problems
// are reported through Result.Outcome and Result.Err.
func (c *Codec) Decode(data []byte, tag Compression) Result {
	switch tag {
	case CompressionGzip:
		return c.gunzipWithFallback(data)

	case CompressionNone:
		return Result{Payload: data, Outcome: OutcomeDecoded}

	case CompressionLegacy:
		if HasGzipMagic(data) {
			return c.gunzipWithFallback(data)
		}
		if bytes.HasPrefix(data, []byte(Base64GzipToken)) {
			if payload, err := gunzipBase64(data); err == nil {
				return Result{Payload: payload, Outcome: OutcomeDecoded}
			}
		}
		return Result{Payload: data, Outcome: OutcomeDecoded}

	default:
		return Result{
			Payload: data,
			Outcome: OutcomeRawFallback,
			Err:     fmt.Errorf("unknown compression tag: %q", string(tag)),
		}
	}
}

// HasGzipMagic reports whether data starts with the gzip magic number.
func HasGzipMagic(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// gunzipWithFallback gunzips data, then tries the base64 path, then
// gives up and returns the raw bytes.
func (c *Codec) gunzipWithFallback(data []byte) Result {
	payload, err := gunzip(data)
	if err == nil {
		return Result{Payload: payload, Outcome: OutcomeDecoded}
	}

	if bytes.HasPrefix(data, []byte(Base64GzipToken)) {
		if payload, b64Err := gunzipBase64(data); b64Err == nil {
			return Result{Payload: payload, Outcome: OutcomeDecoded}
		}
	}

	return Result{Payload: data, Outcome: OutcomeRawFallback, Err: err}
}

func (c *Codec) gzip(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return payload, nil
}

func gunzipBase64(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	return gunzip(raw)
}
