// Package shared holds the request context keys, decoding and response
// helpers used by the HTTP handlers and middleware.
package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ContextKey is the type of values stored in request contexts by this package.
type ContextKey string

const (
	// OwnerIDContextKey holds the authenticated owner's uuid.UUID.
	OwnerIDContextKey ContextKey = "ownerID"

	// TraceIDKey holds the request's trace ID.
	TraceIDKey ContextKey = "traceID"

	// TraceIDHeader carries a caller-supplied trace ID and echoes it back.
	TraceIDHeader = "X-Request-ID"

	// TraceIDLength is the number of random bytes in a generated trace ID.
	TraceIDLength = 16
)

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// SetTraceID stores a trace ID in ctx. A well-formed incoming ID is kept so
// callers can correlate their own logs; anything else is replaced.
func SetTraceID(ctx context.Context, incoming string) context.Context {
	traceID := incoming
	if !traceIDPattern.MatchString(traceID) {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID in ctx, or "" when there is none.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithOwnerID returns a copy of ctx carrying the authenticated owner.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, OwnerIDContextKey, ownerID)
}

// OwnerID returns the authenticated owner stored in ctx.
func OwnerID(ctx context.Context) (uuid.UUID, bool) {
	ownerID, ok := ctx.Value(OwnerIDContextKey).(uuid.UUID)
	return ownerID, ok && ownerID != uuid.Nil
}

var (
	randRead    = rand.Read
	fallbackSeq atomic.Uint64
)

func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	n, err := randRead(b)
	if err != nil || n != TraceIDLength {
		slog.Error("failed to generate random trace ID",
			"error", err,
			"bytes_read", n,
			"fallback", "time-based generation")
		return fallbackTraceID()
	}
	return hex.EncodeToString(b)
}

// fallbackTraceID derives an ID from the clock when crypto/rand fails.
func fallbackTraceID() string {
	b := make([]byte, TraceIDLength)
	now := time.Now()
	binary.BigEndian.PutUint64(b[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint64(b[8:], fallbackSeq.Add(1))
	return hex.EncodeToString(b)
}
