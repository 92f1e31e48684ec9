package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/seitanmen/QuickMessenger/internal/logging"
)

// Server exposes the hub over HTTP: the WebSocket endpoint and a health
// probe. TLS is used when both a certificate and a key file are configured.
type Server struct {
	logger   logging.Logger
	echo     *echo.Echo
	addr     string
	certFile string
	keyFile  string
}

func NewServer(hub *Hub, addr, certFile, keyFile string, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/ws", hub.HandleWS)
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	return &Server{
		logger:   logger.With("module", "server"),
		echo:     e,
		addr:     addr,
		certFile: certFile,
		keyFile:  keyFile,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info(ctx, "hub listening with TLS", "addr", s.addr)
			err = s.echo.StartTLS(s.addr, s.certFile, s.keyFile)
		} else {
			s.logger.Info(ctx, "hub listening", "addr", s.addr)
			err = s.echo.Start(s.addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
