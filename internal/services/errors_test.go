package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tonearm/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrRateLimited, "fetch", "download", "provider throttled", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"fetch", "download", "provider throttled"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOfMapsMarkers(t *testing.T) {
	cases := []struct {
		err  error
		kind services.Kind
	}{
		{services.Wrap(services.ErrNotFound, "fetch", "", "gone", nil), services.KindNotFound},
		{services.Wrap(services.ErrMalformedInput, "transcode", "", "bad", nil), services.KindMalformedInput},
		{services.Wrap(services.ErrQuotaExceeded, "publish", "", "full", nil), services.KindQuotaExceeded},
		{services.Wrap(services.ErrForbidden, "fetch", "", "blocked", nil), services.KindForbidden},
		{services.Wrap(services.ErrTimeout, "transcode", "", "slow", nil), services.KindTimeout},
		{services.Wrap(services.ErrTransientIO, "publish", "", "reset", nil), services.KindTransientIO},
		{fmt.Errorf("stage: %w", context.DeadlineExceeded), services.KindTimeout},
		{errors.New("mystery"), services.KindUnknown},
		{nil, services.KindNone},
	}
	for _, tc := range cases {
		if got := services.KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.kind)
		}
	}
}

func TestClassOf(t *testing.T) {
	permanent := []services.Kind{services.KindNotFound, services.KindMalformedInput, services.KindQuotaExceeded, services.KindConfiguration}
	for _, kind := range permanent {
		if services.ClassOf(kind) != services.ClassPermanent {
			t.Fatalf("expected %s to be permanent", kind)
		}
	}
	transient := []services.Kind{services.KindRateLimited, services.KindForbidden, services.KindTimeout, services.KindTransientIO, services.KindUnknown}
	for _, kind := range transient {
		if services.ClassOf(kind) != services.ClassTransient {
			t.Fatalf("expected %s to be transient", kind)
		}
	}
	if services.ClassOf(services.KindExhausted) != services.ClassExhausted {
		t.Fatal("expected exhausted class")
	}
}

func TestParseKind(t *testing.T) {
	if got := services.ParseKind(" Rate_Limited "); got != services.KindRateLimited {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := services.ParseKind("nonsense"); got != services.KindUnknown {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := services.ParseKind(""); got != services.KindNone {
		t.Fatalf("unexpected kind %q", got)
	}
}
