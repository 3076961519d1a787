package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names the classification of a stage failure. It is persisted on the
// job so callers can see why a conversion stopped.
type Kind string

const (
	KindNone           Kind = ""
	KindNotFound       Kind = "not_found"
	KindMalformedInput Kind = "malformed_input"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindConfiguration  Kind = "configuration"
	KindRateLimited    Kind = "rate_limited"
	KindForbidden      Kind = "forbidden"
	KindTimeout        Kind = "timeout"
	KindTransientIO    Kind = "transient_io"
	KindUnknown        Kind = "unknown"
	// KindExhausted marks a transient failure that outlived the retry budget.
	KindExhausted Kind = "exhausted"
)

// Class groups kinds by how the retry policy treats them.
type Class string

const (
	ClassPermanent Class = "permanent"
	ClassTransient Class = "transient"
	ClassExhausted Class = "exhausted"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrMalformedInput = errors.New("malformed input")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrConfiguration  = errors.New("configuration error")
	ErrRateLimited    = errors.New("rate limited")
	ErrForbidden      = errors.New("forbidden")
	ErrTimeout        = errors.New("timeout")
	ErrTransientIO    = errors.New("transient i/o failure")
)

var markerKinds = []struct {
	marker error
	kind   Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrMalformedInput, KindMalformedInput},
	{ErrQuotaExceeded, KindQuotaExceeded},
	{ErrConfiguration, KindConfiguration},
	{ErrRateLimited, KindRateLimited},
	{ErrForbidden, KindForbidden},
	{ErrTimeout, KindTimeout},
	{ErrTransientIO, KindTransientIO},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransientIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies an error. Context deadlines count as timeouts; errors
// without a marker are reported as KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, mk := range markerKinds {
		if errors.Is(err, mk.marker) {
			return mk.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// ClassOf reports how the retry policy treats a kind. Unclassified failures
// are retried like any other transient error.
func ClassOf(kind Kind) Class {
	switch kind {
	case KindNotFound, KindMalformedInput, KindQuotaExceeded, KindConfiguration:
		return ClassPermanent
	case KindExhausted:
		return ClassExhausted
	default:
		return ClassTransient
	}
}

// IsTransient reports whether an error may succeed if attempted again.
func IsTransient(err error) bool {
	return err != nil && ClassOf(KindOf(err)) == ClassTransient
}

// ParseKind converts a persisted kind string back into a Kind.
func ParseKind(value string) Kind {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindNotFound, KindMalformedInput, KindQuotaExceeded, KindConfiguration,
		KindRateLimited, KindForbidden, KindTimeout, KindTransientIO, KindExhausted:
		return normalized
	case KindNone:
		return KindNone
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
