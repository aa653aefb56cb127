// Package blockpage serves the loopback page that redirected lookups land
// on, so a blocked domain explains itself instead of failing silently.
package blockpage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultPage = `<!DOCTYPE html>
<html>
<head><title>Blocked</title>
<style>body{background:#1a1a2e;color:#fff;font-family:sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
.c{text-align:center}h1{color:#e53e3e;font-size:3rem}</style>
</head>
<body><div class="c"><h1>Focus Mode Active</h1><p>Get back to work.</p></div></body>
</html>`

// Config holds server configuration.
type Config struct {
	Addr      string // loopback address to bind, e.g. "127.0.0.1"
	HTTPPort  int
	HTTPSPort int
	PagePath  string // optional HTML override; watched for changes
	CertDir   string // self-signed cert cache
}

// Server answers every request on the loopback web ports with the block
// page. No routing: any method, any path, same body.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	page []byte
}

// NewServer creates a block-page server.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, logger: logger, page: []byte(defaultPage)}
	s.loadPage()
	return s
}

// loadPage reads the override file if configured, else keeps the default.
func (s *Server) loadPage() {
	if s.cfg.PagePath == "" {
		return
	}
	content, err := os.ReadFile(s.cfg.PagePath)
	if err != nil {
		s.logger.Debug("block page override not readable, using built-in",
			zap.String("path", s.cfg.PagePath),
			zap.Error(err))
		return
	}
	s.mu.Lock()
	s.page = content
	s.mu.Unlock()
}

// ServeHTTP answers everything with the page.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	page := s.page
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(page)
	}
}

// Run starts the HTTP and HTTPS listeners and blocks until the context is
// canceled. A bind failure on either port is logged and skipped: the hosts
// redirect still blocks via connection refusal, just without the page.
func (s *Server) Run(ctx context.Context) error {
	var servers []*http.Server

	httpSrv := s.listenHTTP()
	if httpSrv != nil {
		servers = append(servers, httpSrv)
	}

	httpsSrv := s.listenHTTPS()
	if httpsSrv != nil {
		servers = append(servers, httpsSrv)
	}

	if len(servers) == 0 {
		s.logger.Warn("no block page listener could bind; block still works via connection refusal")
	}

	s.watchPage(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return ctx.Err()
}

func (s *Server) listenHTTP() *http.Server {
	addr := net.JoinHostPort(s.cfg.Addr, fmt.Sprint(s.cfg.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Warn("cannot bind http block page", zap.String("addr", addr), zap.Error(err))
		return nil
	}

	srv := &http.Server{Handler: s}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http block page stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http block page listening", zap.String("addr", addr))
	return srv
}

func (s *Server) listenHTTPS() *http.Server {
	certFile, keyFile, err := EnsureCert(s.cfg.CertDir)
	if err != nil {
		s.logger.Warn("no certificate, skipping https block page", zap.Error(err))
		return nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		s.logger.Warn("failed to load certificate", zap.Error(err))
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Addr, fmt.Sprint(s.cfg.HTTPSPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Warn("cannot bind https block page", zap.String("addr", addr), zap.Error(err))
		return nil
	}

	srv := &http.Server{
		Handler:   s,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}
	go func() {
		if err := srv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https block page stopped", zap.Error(err))
		}
	}()
	s.logger.Info("https block page listening", zap.String("addr", addr))
	return srv
}

// watchPage hot-reloads the page override when it changes on disk.
func (s *Server) watchPage(ctx context.Context) {
	if s.cfg.PagePath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Debug("page watcher unavailable", zap.Error(err))
		return
	}

	// Watch the directory: editors replace the file by rename, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.cfg.PagePath)); err != nil {
		s.logger.Debug("cannot watch page directory", zap.Error(err))
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.cfg.PagePath) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					s.loadPage()
					s.logger.Info("block page reloaded", zap.String("path", s.cfg.PagePath))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("page watcher error", zap.Error(err))
			}
		}
	}()
}
