// Package server provides the TLS listener and connection plumbing
// shared by the coordinator and the peer-to-peer receiver.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler processes one accepted connection. The connection is closed
// when the handler returns.
type Handler func(ctx context.Context, conn *Connection)

// Config holds configuration for creating a new Server.
type Config struct {
	Address        string
	TLSConfig      *tls.Config
	MaxConnections int
	CommandTimeout time.Duration
	IdleTimeout    time.Duration
	Logger         *slog.Logger
}

// Server accepts TLS connections and runs a handler per connection.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a Server. Listen must be called before Run.
func New(cfg Config, handler Handler) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, handler: handler, logger: logger}
}

// Listen binds the listener so the chosen port is known before the
// accept loop starts. Address ":0" asks the OS for a free port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("already listening")
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Address, err)
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.listener = ln
	return nil
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Run accepts connections until the context is cancelled or the
// listener is closed. Each connection runs its handler in a goroutine;
// Run waits for all handlers before returning.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	// Semaphore bounding concurrent connections.
	var slots chan struct{}
	if s.cfg.MaxConnections > 0 {
		slots = make(chan struct{}, s.cfg.MaxConnections)
	}

	for {
		netConn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if slots != nil {
			select {
			case slots <- struct{}{}:
			default:
				s.logger.Warn("connection limit reached, rejecting",
					"remote", netConn.RemoteAddr().String())
				netConn.Close()
				continue
			}
		}

		conn := NewConnection(netConn, s.cfg.CommandTimeout, s.cfg.IdleTimeout)
		s.logger.Debug("accepted connection",
			"session_id", conn.ID(),
			"remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if slots != nil {
				defer func() { <-slots }()
			}
			s.handler(ctx, conn)
		}()
	}
}

// Close stops the listener. In-flight handlers keep running until they
// return on their own or their connections fail.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}
