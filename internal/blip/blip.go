// Package blip captions images locally with the BLIP base captioning model
// exported to ONNX.
package blip

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/chriskillpack/sitrep/captioner"
)

// ModelID is the published model the ONNX files are exported from.
const ModelID = "Salesforce/blip-image-captioning-base"

type Config struct {
	ModelDir string
	// Library is the path to the onnxruntime shared library. Empty uses the
	// platform default.
	Library string
	Threads int

	// AutoFetch downloads missing model files from BaseURL on first use.
	AutoFetch bool
	BaseURL   string
	Token     string

	Names TensorNames
}

// handle is the loaded model. It is read-only once built.
type handle struct {
	model captionModel
	vocab vocab
}

type blip struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	load func(ctx context.Context) (*handle, error)

	mu sync.Mutex // serializes loading
	h  atomic.Pointer[handle]
}

var _ captioner.Captioner = &blip{}

func Init(cfg Config, httpClient *http.Client, logger *slog.Logger) *blip {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Names == (TensorNames{}) {
		cfg.Names = DefaultTensorNames
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &blip{
		cfg:    cfg,
		client: httpClient,
		logger: logger,
	}
	b.load = b.loadModel
	return b
}

func (b *blip) Name() string { return "blip" }

func (b *blip) Model() string { return ModelID }

func (b *blip) IsHealthy(ctx context.Context) bool {
	return b.h.Load() != nil || b.cfg.AutoFetch || len(Missing(b.cfg.ModelDir)) == 0
}

func (b *blip) Caption(ctx context.Context, img image.Image) (string, error) {
	h, err := b.acquire(ctx)
	if err != nil {
		return "", err
	}

	enc, err := h.model.encode(Preprocess(img))
	if err != nil {
		return "", fmt.Errorf("vision encoder: %w", err)
	}
	defer enc.release()

	ids, err := greedy(ctx, enc, maxLength)
	if err != nil {
		return "", err
	}

	caption := h.vocab.decode(ids)
	if caption == "" {
		return "", captioner.ErrEmptyCaption
	}
	return caption, nil
}

// acquire returns the process wide model, loading it on first use. Concurrent
// first callers wait for a single load. A failed load is not remembered, the
// next call tries again.
func (b *blip) acquire(ctx context.Context) (*handle, error) {
	if h := b.h.Load(); h != nil {
		return h, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if h := b.h.Load(); h != nil {
		return h, nil
	}
	h, err := b.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ModelID, err)
	}
	b.h.Store(h)
	return h, nil
}

func (b *blip) loadModel(ctx context.Context) (*handle, error) {
	if missing := Missing(b.cfg.ModelDir); len(missing) > 0 {
		if !b.cfg.AutoFetch {
			return nil, fmt.Errorf("missing model files %v in %q", missing, b.cfg.ModelDir)
		}
		b.logger.Info("Fetching model files", slog.String("dir", b.cfg.ModelDir), slog.Any("files", missing))
		if err := Fetch(ctx, b.client, b.cfg.ModelDir, b.cfg.BaseURL, b.cfg.Token, nil); err != nil {
			return nil, err
		}
	}

	if err := initRuntime(b.cfg.Library, b.logger); err != nil {
		return nil, err
	}

	v, err := loadVocab(filepath.Join(b.cfg.ModelDir, VocabFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	m, err := newONNXModel(
		filepath.Join(b.cfg.ModelDir, VisionFile),
		filepath.Join(b.cfg.ModelDir, DecoderFile),
		b.cfg.Names,
		b.cfg.Threads,
	)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Loaded captioning model", slog.String("model", ModelID), slog.Int("vocab", len(v)))
	return &handle{model: m, vocab: v}, nil
}
