package httpt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/config"
)

type Server struct {
	srv *http.Server
	cfg *config.HTTP
	log logger.Logger
}

func NewHTTPServer(handler http.Handler, cfg *config.HTTP, log logger.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("httpt.NewHTTPServer: nil handler")
	}
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		cfg: cfg,
		log: log,
	}, nil
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	const op = "httpt.Server.Start"

	errCh := make(chan error, 1)
	go func() {
		s.log.LogAttrs(ctx, logger.InfoLevel, "http server listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.log.LogAttrs(shutdownCtx, logger.InfoLevel, "http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}
	return nil
}
