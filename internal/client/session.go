// Package client implements the user side of securedrop: the control
// session against the coordinator, the local account cache and the
// interactive shell.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/server"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

// ErrUnexpectedFrame is returned when the coordinator answers with a
// frame of the wrong type.
var ErrUnexpectedFrame = errors.New("unexpected frame from coordinator")

// Session is one authenticated control connection to the coordinator.
// Operations are strictly sequential: every request reads its own
// response before the next request goes out, which is what keeps the
// single stream unambiguous.
type Session struct {
	conn   *server.Connection
	cfg    config.ClientConfig
	logger *slog.Logger
}

// Dial connects and completes the TLS handshake with the coordinator.
func Dial(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsConfig, err := cfg.TLS.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	dialer := &tls.Dialer{Config: tlsConfig}
	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to coordinator: %w", err)
	}
	logger.Debug("connected to coordinator", "addr", addr)
	return &Session{
		conn:   server.NewConnection(netConn, 0, 0),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close tears down the control connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Register creates an account. A non-empty returned message is the
// coordinator's refusal reason.
func (s *Session) Register(name, email, password string) (string, error) {
	if err := s.conn.WriteFrame(wire.TagRegister, wire.Register{
		Name: name, Email: email, Password: password,
	}); err != nil {
		return "", err
	}
	return s.readStatus()
}

// Login authenticates an existing account.
func (s *Session) Login(email, password string) (string, error) {
	if err := s.conn.WriteFrame(wire.TagLogin, wire.Login{
		Email: email, Password: password,
	}); err != nil {
		return "", err
	}
	return s.readStatus()
}

// AddContact adds or replaces one contact.
func (s *Session) AddContact(name, email string) (string, error) {
	if err := s.conn.WriteFrame(wire.TagAddContact, wire.AddContact{
		Name: name, Email: email,
	}); err != nil {
		return "", err
	}
	return s.readStatus()
}

// ListContacts returns the online mutual contacts.
func (s *Session) ListContacts() (map[string]string, error) {
	if err := s.conn.WriteFrame(wire.TagListContacts, wire.ListContacts{}); err != nil {
		return nil, err
	}
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	if frame.Tag != wire.TagContactList {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frame.Tag, wire.TagContactList)
	}
	var list wire.ContactList
	if err := frame.Decode(&list); err != nil {
		return nil, err
	}
	return list.Contacts, nil
}

// Poll fetches pending transfer requests addressed to this user.
func (s *Session) Poll() (map[string]wire.FileInfo, error) {
	if err := s.conn.WriteFrame(wire.TagPollRequests, wire.PollRequests{}); err != nil {
		return nil, err
	}
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	if frame.Tag != wire.TagPendingRequests {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frame.Tag, wire.TagPendingRequests)
	}
	var pending wire.PendingRequests
	if err := frame.Decode(&pending); err != nil {
		return nil, err
	}
	return pending.Requests, nil
}

// RequestTransfer asks the coordinator to enqueue a transfer toward
// the recipient. A non-empty message is the refusal reason.
func (s *Session) RequestTransfer(recipientEmail string, info wire.FileInfo) (string, error) {
	if err := s.conn.WriteFrame(wire.TagTransferRequest, wire.TransferRequest{
		RecipientEmail: recipientEmail,
		FileInfo:       info,
	}); err != nil {
		return "", err
	}
	return s.readStatus()
}

// AwaitPortToken blocks until the coordinator resolves the request: a
// zero port with an empty token means the recipient declined.
func (s *Session) AwaitPortToken() (int, string, error) {
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return 0, "", err
	}
	if frame.Tag != wire.TagPortToken {
		return 0, "", fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frame.Tag, wire.TagPortToken)
	}
	var pt wire.PortToken
	if err := frame.Decode(&pt); err != nil {
		return 0, "", err
	}
	return pt.Port, pt.Token, nil
}

// Accept accepts the pending request from senderEmail and returns the
// rendezvous token. An empty token means the coordinator could not
// complete the acceptance.
func (s *Session) Accept(senderEmail string) (string, error) {
	if err := s.conn.WriteFrame(wire.TagAcceptRequest, wire.AcceptRequest{
		SenderEmail: senderEmail,
	}); err != nil {
		return "", err
	}
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return "", err
	}
	if frame.Tag != wire.TagToken {
		return "", fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frame.Tag, wire.TagToken)
	}
	var tok wire.Token
	if err := frame.Decode(&tok); err != nil {
		return "", err
	}
	return tok.Token, nil
}

// Deny declines every pending request. All queued senders are
// notified.
func (s *Session) Deny() error {
	return s.conn.WriteFrame(wire.TagAcceptRequest, wire.AcceptRequest{SenderEmail: ""})
}

// SendPort reports the receiver's listen port back to the coordinator
// so it can be forwarded to the sender.
func (s *Session) SendPort(port int) error {
	return s.conn.WriteFrame(wire.TagListenPort, wire.ListenPort{Port: port})
}

func (s *Session) readStatus() (string, error) {
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return "", err
	}
	if frame.Tag != wire.TagStatus {
		return "", fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, frame.Tag, wire.TagStatus)
	}
	var status wire.Status
	if err := frame.Decode(&status); err != nil {
		return "", err
	}
	return status.Message, nil
}
