// Package sitrep captions a disaster image and asks a hosted language model to
// turn the caption into a structured situation report.
package sitrep

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/chriskillpack/sitrep/captioner"
	"github.com/chriskillpack/sitrep/internal/blip"
	"github.com/chriskillpack/sitrep/internal/hfinference"
	"github.com/chriskillpack/sitrep/internal/llama"
	"github.com/chriskillpack/sitrep/internal/openai"
	"github.com/chriskillpack/sitrep/report"
	"github.com/google/uuid"
)

type InitOptions struct {
	// Exactly one captioning backend must be selected.
	Blip *blip.Config

	InferenceURL string

	LlamaServer string
	LlamaSeed   int

	// Token is the Hugging Face access token, used for the hosted report
	// model and the inference backend.
	Token string

	Chat   openai.Config
	Report report.Config

	HttpClient *http.Client // if nil uses http.DefaultClient
	Logger     *slog.Logger // if nil uses slog.Default()
}

type Sitrep struct {
	captioner.Captioner
	*report.Synthesizer

	logger *slog.Logger
}

// Result is the outcome of one pipeline run.
type Result struct {
	ID      uuid.UUID
	Caption string
	Report  string

	CaptionTime time.Duration
	ReportTime  time.Duration
}

func Init(sio InitOptions) (*Sitrep, error) {
	httpClient := sio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := sio.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var n int
	if sio.Blip != nil {
		n++
	}
	if sio.InferenceURL != "" {
		n++
	}
	if sio.LlamaServer != "" {
		n++
	}
	switch n {
	case 0:
		return nil, fmt.Errorf("no captioning backend selected")
	case 1:
		// no-op
	default:
		return nil, fmt.Errorf("multiple captioning backends selected, only one allowed")
	}

	var c captioner.Captioner
	if sio.Blip != nil {
		c = blip.Init(*sio.Blip, httpClient, logger)
	} else if sio.InferenceURL != "" {
		c = hfinference.Init(sio.InferenceURL, sio.Token, httpClient)
	} else if sio.LlamaServer != "" {
		c = llama.Init(sio.LlamaServer, sio.LlamaSeed, httpClient)
	}

	chat := sio.Chat
	if chat.APIKey == "" {
		chat.APIKey = sio.Token
	}
	s := report.New(openai.Init(chat, httpClient), sio.Report, logger)

	return New(c, s, logger), nil
}

// New assembles a pipeline from its two stages.
func New(c captioner.Captioner, s *report.Synthesizer, logger *slog.Logger) *Sitrep {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sitrep{Captioner: c, Synthesizer: s, logger: logger}
}

// Analyze captions img and synthesizes a report from the caption. A
// captioning failure aborts the run before the report model is contacted.
// Report failures never fail the run, they are embedded in Result.Report.
func (s *Sitrep) Analyze(ctx context.Context, img image.Image) (*Result, error) {
	res := &Result{ID: uuid.New()}
	logger := s.logger.With(slog.String("run", res.ID.String()))

	start := time.Now()
	caption, err := s.Caption(ctx, img)
	if err != nil {
		logger.Error("Caption failed", slog.String("captioner", s.Name()), slog.String("error", err.Error()))
		return nil, fmt.Errorf("caption: %w", err)
	}
	res.Caption = caption
	res.CaptionTime = time.Since(start)
	logger.Info("Captioned image", slog.String("caption", caption), slog.Duration("elapsed", res.CaptionTime))

	start = time.Now()
	res.Report = s.Synthesize(ctx, caption)
	res.ReportTime = time.Since(start)
	logger.Info("Report ready",
		slog.Bool("soft_error", report.IsSoftError(res.Report)),
		slog.Duration("elapsed", res.ReportTime))

	return res, nil
}
