// Package report turns an image caption into a disaster assessment by asking
// a hosted language model to fill in a fixed set of fields.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrorMarker prefixes a report whose remote call failed.
const ErrorMarker = "❌ Error during inference: "

const promptTemplate = `
📋 Disaster Report:
You are a disaster response analyst. Based on the following image description, extract structured disaster information.

Image Caption: "%s"

Return the following:

Disaster Type
Human Presence
Animal Presence
Casualties or Injured
Environmental Conditions (CO2, O2, smoke, water, fire, debris, vegetation)
Infrastructure Damage
Visibility

End with a 3-line summary. Use "No Info" if uncertain.
`

// Fields lists the report sections requested from the model, in prompt order.
var Fields = []string{
	"Disaster Type",
	"Human Presence",
	"Animal Presence",
	"Casualties or Injured",
	"Environmental Conditions",
	"Infrastructure Damage",
	"Visibility",
}

// Completer sends a single user prompt to a chat model and returns the text of
// the first choice.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	// Timeout bounds a single remote call. Zero leaves the call bounded only
	// by ctx and the HTTP client.
	Timeout time.Duration
}

// Synthesizer is safe for concurrent use as long as its Completer is.
type Synthesizer struct {
	c      Completer
	cfg    Config
	logger *slog.Logger
}

func New(c Completer, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{c: c, cfg: cfg, logger: logger}
}

// Prompt returns the instruction sent to the model for caption. The caption is
// embedded as-is.
func Prompt(caption string) string {
	return fmt.Sprintf(promptTemplate, caption)
}

// Synthesize returns the model's answer for caption verbatim. Any failure of
// the remote call is folded into the returned text behind ErrorMarker, so the
// result is always displayable.
func (s *Synthesizer) Synthesize(ctx context.Context, caption string) string {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.c.Complete(ctx, Prompt(caption))
	if err != nil {
		s.logger.Warn("Report synthesis failed",
			slog.String("kind", Kind(err)),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return ErrorMarker + err.Error()
	}

	s.logger.Debug("Report synthesized",
		slog.Int("len", len(text)),
		slog.Duration("elapsed", time.Since(start)))
	return text
}

// IsSoftError reports whether text is a failure folded in by Synthesize.
func IsSoftError(text string) bool {
	return strings.HasPrefix(text, ErrorMarker)
}

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrRateLimited       = errors.New("rate limited")
	ErrConnectivity      = errors.New("service unreachable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRemote            = errors.New("remote service error")
)

// Kind names the failure class of err for logging.
func Kind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "unknown"
	}
}
