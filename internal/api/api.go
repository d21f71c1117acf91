// Package api exposes the upload and profile operations over HTTP. The
// handlers are thin: they translate requests into the auth flow and the
// upload orchestrator and render results and errors. All policy lives in
// those packages.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"igpost/internal/authflow"
	"igpost/internal/insta"
	"igpost/internal/upload"
)

// shutdownTimeout is how long a draining server may take after ctx ends.
const shutdownTimeout = 5 * time.Second

// Client is the authenticated platform capability the handlers use.
// *insta.Client satisfies it.
type Client interface {
	AccountInfo(ctx context.Context) (*insta.Account, error)
	PublishVideo(ctx context.Context, path, caption string) (*insta.Media, error)
}

// Authenticator produces an authenticated client for one request. The
// server authenticates per request, like the CLI does per invocation —
// session reuse makes repeat calls cheap.
type Authenticator func(ctx context.Context) (Client, error)

// Server is the HTTP service layer.
type Server struct {
	engine       *gin.Engine
	authenticate Authenticator
	recorder     upload.Recorder
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder attaches a publish history recorder to upload handling.
func WithRecorder(r upload.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// NewServer builds the server and registers all routes.
func NewServer(authenticate Authenticator, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:       gin.New(),
		authenticate: authenticate,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/profile", s.handleProfile)
	s.engine.POST("/upload", s.handleUpload)

	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: shutdownTimeout,
	}

	s.logger.Info("api listening", slog.String("addr", addr))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}

		s.logger.Info("api stopped")

		return nil
	})

	return g.Wait()
}

// requestLogger logs each request with method, path, and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProfile(c *gin.Context) {
	client, err := s.authenticate(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	account, err := client.AccountInfo(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// uploadRequest is the JSON body for path-based uploads.
type uploadRequest struct {
	Video       string `json:"video"`
	Description string `json:"description"`
}

func (s *Server) handleUpload(c *gin.Context) {
	req, err := parseUploadRequest(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	client, err := s.authenticate(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	var opts []upload.Option
	if s.recorder != nil {
		opts = append(opts, upload.WithRecorder(s.recorder))
	}

	orch := upload.New(client, s.logger, opts...)

	result, err := orch.Publish(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": result.URL, "status": "ok"})
}

// parseUploadRequest accepts either a JSON body naming a server-local
// video path, or a multipart form carrying the video bytes. Source
// exclusivity itself is the orchestrator's check; this only decodes.
func parseUploadRequest(c *gin.Context) (upload.Request, error) {
	contentType := c.ContentType()

	if contentType == "multipart/form-data" {
		file, err := c.FormFile("video")
		if err != nil {
			return upload.Request{}, upload.ErrMissingSource
		}

		f, err := file.Open()
		if err != nil {
			return upload.Request{}, fmt.Errorf("api: opening uploaded video: %w", err)
		}

		// gin closes multipart temp files when the request ends; the
		// orchestrator copies the stream out before then.
		return upload.Request{
			Stream:  f,
			Caption: c.PostForm("description"),
		}, nil
	}

	var body uploadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return upload.Request{}, fmt.Errorf("%w: invalid request body", upload.ErrMissingSource)
	}

	return upload.Request{
		FilePath: body.Video,
		Caption:  body.Description,
	}, nil
}

// writeError maps domain errors to HTTP responses: input and credential
// problems are the caller's fault (400), platform rejections pass through
// as bad gateway (502), everything else is a server error.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var apiErr *insta.APIError

	switch {
	case errors.Is(err, upload.ErrAmbiguousSource),
		errors.Is(err, upload.ErrMissingSource),
		errors.Is(err, upload.ErrSourceNotFound),
		errors.Is(err, upload.ErrMissingCaption),
		errors.Is(err, authflow.ErrNoCredentials),
		errors.Is(err, authflow.ErrSessionInvalidNoCredentials):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	s.logger.Warn("request failed",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	c.JSON(status, gin.H{"error": err.Error()})
}
