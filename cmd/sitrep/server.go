package main

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"image"
	"log/slog"
	"net"
	"net/http"

	"github.com/chriskillpack/sitrep"
	"github.com/chriskillpack/sitrep/report"
	"github.com/gin-gonic/gin"
)

var (
	//go:embed tmpl/*.html
	tmplFS embed.FS

	templates = template.Must(template.ParseFS(tmplFS, "tmpl/*.html"))
)

// maxUploadSize bounds the multipart form held in memory.
const maxUploadSize = 32 << 20

// analyzer is the part of *sitrep.Sitrep the server needs.
type analyzer interface {
	Name() string
	IsHealthy(ctx context.Context) bool
	Analyze(ctx context.Context, img image.Image) (*sitrep.Result, error)
}

type Server struct {
	hs     *http.Server
	a      analyzer
	logger *slog.Logger
}

type analyzeResponse struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	Report    string `json:"report"`
	SoftError bool   `json:"soft_error"`
	CaptionMS int64  `json:"caption_ms"`
	ReportMS  int64  `json:"report_ms"`

	Error string `json:"error,omitempty"`
}

// NewServer returns a server on host:port. Requests inherit baseCtx, so
// canceling it aborts in-flight pipeline runs.
func NewServer(baseCtx context.Context, a analyzer, host, port string, logger *slog.Logger) *Server {
	srv := &Server{
		a:      a,
		logger: logger,
	}

	srv.hs = &http.Server{
		Addr:        net.JoinHostPort(host, port),
		Handler:     srv.serveHandler(),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	return srv
}

func (s *Server) Start() error {
	s.logger.Info("Listening on", slog.String("address", s.hs.Addr))
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

func (s *Server) serveHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetHTMLTemplate(templates)
	r.MaxMultipartMemory = maxUploadSize

	r.GET("/", s.serveRoot)
	r.GET("/health", s.serveHealth)
	r.POST("/analyze", s.serveAnalyze)

	return r
}

func (s *Server) serveRoot(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Captioner": s.a.Name()})
}

func (s *Server) serveHealth(c *gin.Context) {
	if !s.a.IsHealthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "captioner": s.a.Name()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "captioner": s.a.Name()})
}

func (s *Server) serveAnalyze(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, "no file uploaded")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, "cannot open uploaded file")
		return
	}
	defer file.Close()

	img, format, err := sitrep.DecodeImage(file)
	if err != nil {
		if errors.Is(err, sitrep.ErrUnsupportedImage) {
			s.fail(c, http.StatusBadRequest, "unsupported image type, upload a JPEG or PNG")
			return
		}
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("Decoded upload",
		slog.String("name", fileHeader.Filename),
		slog.String("format", format),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()))

	res, err := s.a.Analyze(c.Request.Context(), img)
	if err != nil {
		s.logger.Error("Analyze failed", slog.String("error", err.Error()))
		s.fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	resp := analyzeResponse{
		ID:        res.ID.String(),
		Caption:   res.Caption,
		Report:    res.Report,
		SoftError: report.IsSoftError(res.Report),
		CaptionMS: res.CaptionTime.Milliseconds(),
		ReportMS:  res.ReportTime.Milliseconds(),
	}
	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		c.HTML(http.StatusOK, "_results.html", resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// fail reports an error in whichever format the client asked for.
func (s *Server) fail(c *gin.Context, status int, msg string) {
	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		c.HTML(status, "_results.html", analyzeResponse{Error: msg})
		return
	}
	c.JSON(status, gin.H{"error": msg})
}
