package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/chriskillpack/sitrep/report"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// Hugging Face's OpenAI compatible router. The ":groq" model suffix picks
	// the inference provider.
	DefaultBaseURL     = "https://router.huggingface.co/v1"
	DefaultModel       = "openai/gpt-oss-120b:groq"
	DefaultTemperature = 0.7
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type openai struct {
	oac         *oagc.Client
	model       string
	temperature float64
}

var _ report.Completer = &openai{}

func Init(cfg Config, httpClient *http.Client) *openai {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// Paths are resolved relative to the base URL.
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &openai{
		oac: oagc.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

func (o *openai) Model() string { return o.model }

// Complete sends prompt as a single user message and returns the content of
// the first choice. Errors are wrapped with one of the report package's
// failure classes.
func (o *openai) Complete(ctx context.Context, prompt string) (string, error) {
	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessage(prompt),
		}),
		Model:       oagc.F(oagc.ChatModel(o.model)),
		Temperature: oagc.Float(o.temperature),
	}
	resp, err := o.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion %q", report.ErrMalformedResponse, resp.ID)
	}

	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *oagc.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", report.ErrAuthentication, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", report.ErrRateLimited, err)
		}
		if apierr.StatusCode/100 == 2 {
			return fmt.Errorf("%w: %w", report.ErrMalformedResponse, err)
		}
		return fmt.Errorf("%w: %w", report.ErrRemote, err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return fmt.Errorf("%w: %w", report.ErrConnectivity, err)
	}

	// Anything else came back from decoding the response body.
	return fmt.Errorf("%w: %w", report.ErrMalformedResponse, err)
}
