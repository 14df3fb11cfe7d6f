package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/chriskillpack/sitrep"
	"github.com/chriskillpack/sitrep/config"
	"github.com/chriskillpack/sitrep/internal/blip"
	"github.com/chriskillpack/sitrep/internal/logging"
	"github.com/chriskillpack/sitrep/internal/openai"
	"github.com/chriskillpack/sitrep/report"
	"github.com/gin-gonic/gin"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "./sitrep.toml", "Path to config file, TOML or YAML")
	imagePath  = flag.String("image", "", "Caption and report on a single image, then exit")
	serve      = flag.Bool("serve", false, "Serve the upload page and API")
	fetch      = flag.Bool("fetch", false, "Download the BLIP model files, then exit")
	logLevel   = flag.String("loglevel", "", "Override the configured log level")
)

func initOptions(cfg *config.Config, logger *slog.Logger) sitrep.InitOptions {
	sio := sitrep.InitOptions{
		Token: cfg.Token,
		Chat: openai.Config{
			BaseURL:     cfg.Report.BaseURL,
			Model:       cfg.Report.Model,
			Temperature: cfg.Report.Temperature,
		},
		Report: report.Config{Timeout: cfg.Report.Timeout},
		Logger: logger,
	}

	switch cfg.Caption.Backend {
	case config.BackendBlip:
		bc := blipConfig(cfg)
		sio.Blip = &bc
	case config.BackendHFInference:
		sio.InferenceURL = cfg.Caption.InferenceURL
	case config.BackendLlama:
		sio.LlamaServer = cfg.Caption.LlamaServer
		sio.LlamaSeed = cfg.Caption.LlamaSeed
	}

	return sio
}

func blipConfig(cfg *config.Config) blip.Config {
	return blip.Config{
		ModelDir:  cfg.Caption.ModelDir,
		Library:   cfg.Caption.Library,
		Threads:   cfg.Caption.Threads,
		AutoFetch: cfg.Caption.AutoFetch,
		BaseURL:   cfg.Caption.ModelURL,
		Token:     cfg.Token,
		Names:     cfg.Caption.Tensors,
	}
}

func runFetch(ctx context.Context, cfg *config.Config) error {
	bc := blipConfig(cfg)
	missing := blip.Missing(bc.ModelDir)
	if len(missing) == 0 {
		fmt.Printf("All model files present in %s\n", bc.ModelDir)
		return nil
	}
	fmt.Printf("Fetching %d files into %s\n", len(missing), bc.ModelDir)

	progress := func(name string, size int64) io.Writer {
		return progressbar.DefaultBytes(size, name)
	}
	return blip.Fetch(ctx, http.DefaultClient, bc.ModelDir, bc.BaseURL, bc.Token, progress)
}

// runImage analyzes the image at path and prints the caption and report.
func runImage(ctx context.Context, a analyzer, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := sitrep.DecodeImage(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	res, err := a.Analyze(ctx, img)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "🖋 Auto-Caption: %s\n\n📝 Disaster Report:\n%s\n", res.Caption, res.Report)
	return nil
}

func runServer(ctx, drainCtx context.Context, a analyzer, cfg *config.Config, logger *slog.Logger) error {
	srv := NewServer(ctx, a, cfg.Server.Host, cfg.Server.Port, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-drainCtx.Done():
		case <-gctx.Done():
			return nil
		}
		logger.Info("Draining in-flight requests")
		// ctx is canceled by a second interrupt, cutting the drain short.
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// sighandler drains on the first interrupt and cancels everything on the
// second.
func sighandler(ch chan os.Signal, drain, cancel context.CancelFunc) {
	<-ch
	fmt.Println("SIGINT received, stopping...")
	drain()

	<-ch
	fmt.Println("Exiting")
	cancel()
}

func main() {
	flag.Parse()

	modes := 0
	for _, on := range []bool{*imagePath != "", *serve, *fetch} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.InitConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drainCtx, drain := context.WithCancel(ctx)
	defer drain()
	go sighandler(sigch, drain, cancel)

	if *fetch {
		if err := runFetch(drainCtx, cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	s, err := sitrep.Init(initOptions(cfg, logger))
	if err != nil {
		log.Fatal(err)
	}
	logger.Info("Using captioner", slog.String("name", s.Name()), slog.String("model", s.Model()))

	if *imagePath != "" {
		start := time.Now()
		if err := runImage(drainCtx, s, *imagePath, os.Stdout); err != nil {
			log.Fatal(err)
		}
		logger.Debug("Done", slog.Duration("elapsed", time.Since(start)))
		return
	}

	gin.SetMode(gin.ReleaseMode)
	if err := runServer(ctx, drainCtx, s, cfg, logger); err != nil {
		log.Fatal(err)
	}
}
