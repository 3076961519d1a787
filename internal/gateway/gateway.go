package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tonearm/internal/api"
	"tonearm/internal/audio"
	"tonearm/internal/logging"
	"tonearm/internal/source"
)

// ErrRejected is wrapped by every Rejection.
var ErrRejected = errors.New("submission rejected")

// Reason names why a submission was rejected.
type Reason string

const (
	ReasonUnauthorized      Reason = "unauthorized"
	ReasonInvalidURL        Reason = "invalid_url"
	ReasonUnsupportedFormat Reason = "unsupported_format"
)

// Rejection describes a refused submission.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrRejected, r.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrRejected, r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error { return ErrRejected }

// ReasonOf extracts the rejection reason from err, or "" when err is not a rejection.
func ReasonOf(err error) Reason {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Reason
	}
	return ""
}

// Core is the service that accepts validated submissions.
type Core interface {
	Submit(ctx context.Context, sub api.Submission) (api.JobHandle, error)
}

// KeyValidator checks issued API keys.
type KeyValidator interface {
	Valid(ctx context.Context, key string) (bool, error)
}

// Gateway guards the core service.
type Gateway struct {
	core   Core
	keys   KeyValidator
	token  string
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithKeys requires callers to present a valid issued key.
func WithKeys(keys KeyValidator) Option {
	return func(g *Gateway) { g.keys = keys }
}

// WithToken accepts a static operator token in addition to issued keys.
func WithToken(token string) Option {
	return func(g *Gateway) { g.token = strings.TrimSpace(token) }
}

// WithLogger sets the logger used for rejection events.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// New builds a gateway in front of core. Without WithKeys or WithToken every
// caller is authorized.
func New(core Core, opts ...Option) *Gateway {
	g := &Gateway{core: core}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "gateway")
	return g
}

// Authorize checks credential without submitting anything.
func (g *Gateway) Authorize(ctx context.Context, credential string) error {
	if g.keys == nil && g.token == "" {
		return nil
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return &Rejection{Reason: ReasonUnauthorized, Detail: "missing api key"}
	}
	if g.token != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(g.token)) == 1 {
		return nil
	}
	if g.keys != nil {
		ok, err := g.keys.Valid(ctx, credential)
		if err != nil {
			return fmt.Errorf("validate api key: %w", err)
		}
		if ok {
			return nil
		}
	}
	return &Rejection{Reason: ReasonUnauthorized, Detail: "invalid or expired api key"}
}

// Validate normalizes sub or rejects it.
func Validate(sub api.Submission) (api.Submission, error) {
	ref, err := source.Parse(sub.URL)
	if err != nil {
		return api.Submission{}, &Rejection{Reason: ReasonInvalidURL, Detail: err.Error()}
	}
	format, err := audio.Parse(sub.Format)
	if err != nil {
		return api.Submission{}, &Rejection{Reason: ReasonUnsupportedFormat, Detail: err.Error()}
	}
	return api.Submission{URL: ref.URL, Format: string(format)}, nil
}

// Submit authorizes and validates sub, then forwards it to the core.
func (g *Gateway) Submit(ctx context.Context, credential string, sub api.Submission) (api.JobHandle, error) {
	if err := g.Authorize(ctx, credential); err != nil {
		g.logRejection(ctx, err)
		return api.JobHandle{}, err
	}
	normalized, err := Validate(sub)
	if err != nil {
		g.logRejection(ctx, err)
		return api.JobHandle{}, err
	}
	return g.core.Submit(ctx, normalized)
}

func (g *Gateway) logRejection(ctx context.Context, err error) {
	reason := ReasonOf(err)
	if reason == "" {
		logging.ErrorWithContext(logging.WithContext(ctx, g.logger), "submission authorization failed", "gateway_auth_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database"),
		)
		return
	}
	logging.WithContext(ctx, g.logger).Info("submission rejected",
		logging.String("reason", string(reason)),
		logging.Error(err),
		logging.String(logging.FieldEventType, "submission_rejected"),
	)
}
