package homekit

import (
	"context"
	"fmt"

	"github.com/brutella/hap"
)

// Server is the HomeKit accessory server for one light.
type Server struct {
	srv *hap.Server
}

// NewServer prepares the server. An empty addr picks a free port.
func NewServer(st *Store, pin, addr string, l *Light) (*Server, error) {
	if err := ValidatePin(pin); err != nil {
		return nil, err
	}
	srv, err := hap.NewServer(st, l.Accessory())
	if err != nil {
		return nil, fmt.Errorf("create homekit server: %w", err)
	}
	srv.Pin = pin
	srv.Addr = addr
	return &Server{srv: srv}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.srv.ListenAndServe(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
