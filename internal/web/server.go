// Package web serves the query console: the page, the submit endpoint, and
// the live event stream of each browser session.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glassbead/atris/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed assets/*
var assetsFS embed.FS

// StartOpts holds configuration for the web server.
type StartOpts struct {
	Sessions *session.Manager
	Router   session.Router // used by POST /api/route
	Auth     *Auth          // nil disables authentication
	Port     int
	Out      io.Writer

	// Heartbeat is the SSE keepalive interval. Defaults to 15s.
	Heartbeat time.Duration
}

type server struct {
	sessions  *session.Manager
	router    session.Router
	auth      *Auth
	out       io.Writer
	heartbeat time.Duration
}

// NewHandler builds the gin engine with every route registered.
func NewHandler(opts StartOpts) (http.Handler, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("web: sessions are required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("web: router is required")
	}
	s := &server{
		sessions:  opts.Sessions,
		router:    opts.Router,
		auth:      opts.Auth,
		out:       opts.Out,
		heartbeat: opts.Heartbeat,
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	engine.SetHTMLTemplate(tmpl)

	registerRoutes(engine, s)
	return engine, nil
}

// Start launches the web server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	handler, err := NewHandler(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Query console running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
