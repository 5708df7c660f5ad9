// Package coordinator implements the securedrop coordinator: a TLS
// server that authenticates users, maintains the contact graph, and
// brokers peer-to-peer transfers. File bytes never pass through it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/logging"
	"github.com/securedrop-lan/securedrop/internal/metrics"
	"github.com/securedrop-lan/securedrop/internal/server"
	"github.com/securedrop-lan/securedrop/internal/store"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

// rendezvous binds an accepted transfer to its token and the sender
// session awaiting the port notification. Keyed by recipient session
// in the coordinator's map.
type rendezvous struct {
	token  string
	sender *Session
}

// Coordinator owns the account store, the live session maps and the
// transfer brokerage state.
//
// Lock order: the store's internal mutex is never held while acquiring
// mu; handlers take store snapshots first and touch the session maps
// afterwards.
type Coordinator struct {
	cfg       config.CoordinatorConfig
	store     *store.Store
	logger    *slog.Logger
	collector metrics.Collector
	srv       *server.Server

	mu                    sync.Mutex
	emailToSession        map[string]*Session
	sessionToEmail        map[*Session]string
	transferRequests      map[string]map[string]wire.FileInfo
	rendezvousByRecipient map[*Session]rendezvous
}

// New creates a Coordinator. The TLS certificate is loaded from the
// configured PEM.
func New(cfg config.CoordinatorConfig, st *store.Store, logger *slog.Logger, collector metrics.Collector) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	tlsConfig, err := cfg.TLS.ServerTLSConfig()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:       cfg,
		store:     st,
		logger:    logger,
		collector: collector,

		emailToSession:        make(map[string]*Session),
		sessionToEmail:        make(map[*Session]string),
		transferRequests:      make(map[string]map[string]wire.FileInfo),
		rendezvousByRecipient: make(map[*Session]rendezvous),
	}
	c.srv = server.New(server.Config{
		Address:        fmt.Sprintf(":%d", cfg.Port),
		TLSConfig:      tlsConfig,
		MaxConnections: cfg.Limits.MaxConnections,
		CommandTimeout: cfg.Timeouts.CommandTimeout(),
		IdleTimeout:    cfg.Timeouts.IdleTimeout(),
		Logger:         logger,
	}, c.handleConnection)
	return c, nil
}

// Listen binds the coordinator's listener.
func (c *Coordinator) Listen() error {
	return c.srv.Listen()
}

// Port returns the bound port; useful with port 0 in tests.
func (c *Coordinator) Port() int {
	return c.srv.Port()
}

// Run serves until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting", "port", c.cfg.Port, "store", c.cfg.StoreFile)
	err := c.srv.Run(ctx)
	c.logger.Info("coordinator stopped")
	return err
}

// Close stops the listener.
func (c *Coordinator) Close() error {
	return c.srv.Close()
}

// handleConnection runs the per-session receive loop: read one frame,
// dispatch on its tag, repeat until the stream dies. A misbehaving
// peer never takes the coordinator down; malformed frames are logged
// and dropped.
func (c *Coordinator) handleConnection(ctx context.Context, conn *server.Connection) {
	logger := c.logger.With("session_id", conn.ID(), "remote", conn.RemoteAddr().String())
	ctx = logging.WithContext(ctx, logger)

	c.collector.ConnectionOpened()
	defer c.collector.ConnectionClosed()

	sess := newSession(conn)
	defer c.teardown(sess, logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := conn.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("client closed connection")
			case errors.Is(err, net.ErrClosed):
				logger.Debug("connection closed")
			case errors.Is(err, wire.ErrShortFrame), errors.Is(err, wire.ErrFrameTooLarge):
				// Framing is broken beyond resync; drop the session.
				logger.Warn("unrecoverable framing error", "error", err.Error())
			default:
				logger.Debug("read error", "error", err.Error())
			}
			return
		}

		c.collector.FrameHandled(frame.Tag)
		if err := c.dispatch(ctx, sess, frame); err != nil {
			// Write errors mean the stream is gone.
			logger.Debug("write error", "error", err.Error())
			return
		}
	}
}

// dispatch routes one frame to its handler. The returned error is a
// transport failure; protocol-level failures travel as STAT messages.
func (c *Coordinator) dispatch(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)
	logger.Debug("handling frame", "tag", frame.Tag, "state", sess.state.String())

	switch frame.Tag {
	case wire.TagRegister:
		return c.handleRegister(ctx, sess, frame)
	case wire.TagLogin:
		return c.handleLogin(ctx, sess, frame)
	}

	if !sess.Authenticated() {
		return sess.conn.WriteStatus("Not authenticated.")
	}

	switch frame.Tag {
	case wire.TagAddContact:
		return c.handleAddContact(ctx, sess, frame)
	case wire.TagListContacts:
		return c.handleListContacts(ctx, sess)
	case wire.TagTransferRequest:
		return c.handleTransferRequest(ctx, sess, frame)
	case wire.TagPollRequests:
		return c.handlePollRequests(ctx, sess)
	case wire.TagAcceptRequest:
		return c.handleAcceptRequest(ctx, sess, frame)
	case wire.TagListenPort:
		return c.handleListenPort(ctx, sess, frame)
	default:
		logger.Warn("unknown frame tag", "tag", frame.Tag)
		return nil
	}
}

// bind records the session-email mappings after a successful register
// or login. A fresh login replaces the previous session's mapping; the
// stale session keeps running but no longer receives pushes.
func (c *Coordinator) bind(sess *Session, email string) {
	sess.authenticate(email)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.emailToSession[email] = sess
	c.sessionToEmail[sess] = email
}

// teardown drops all coordinator state owned by a closing session:
// both directional bindings, pending transfer requests naming it as
// either party, and rendezvous records. A surviving rendezvous party
// is notified by having its stream closed; there is no recovery path.
func (c *Coordinator) teardown(sess *Session, logger *slog.Logger) {
	c.mu.Lock()

	email, ok := c.sessionToEmail[sess]
	delete(c.sessionToEmail, sess)
	if ok && c.emailToSession[email] == sess {
		delete(c.emailToSession, email)
	}

	var orphaned []*Session
	if ok {
		delete(c.transferRequests, email)
		for recipient, bySender := range c.transferRequests {
			delete(bySender, email)
			if len(bySender) == 0 {
				delete(c.transferRequests, recipient)
			}
		}
	}
	if _, exists := c.rendezvousByRecipient[sess]; exists {
		orphaned = append(orphaned, c.rendezvousByRecipient[sess].sender)
		delete(c.rendezvousByRecipient, sess)
	}
	for recipient, rv := range c.rendezvousByRecipient {
		if rv.sender == sess {
			orphaned = append(orphaned, recipient)
			delete(c.rendezvousByRecipient, recipient)
		}
	}

	c.mu.Unlock()

	if ok {
		c.store.Forget(email)
		logger.Info("session closed", "state", "AUTHENTICATED")
	} else {
		logger.Debug("session closed", "state", "CONNECTED")
	}

	for _, other := range orphaned {
		if other != nil {
			other.conn.Close()
		}
	}
}
