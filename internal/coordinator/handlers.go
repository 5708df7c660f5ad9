package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/securedrop-lan/securedrop/internal/cryptoutil"
	"github.com/securedrop-lan/securedrop/internal/logging"
	"github.com/securedrop-lan/securedrop/internal/store"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

// msgInternalError is the STAT message for failures the client cannot
// act on. Details stay in the coordinator log.
const msgInternalError = "Internal server error."

// tokenSize is the rendezvous token length in bytes before hex
// encoding.
const tokenSize = 32

func (c *Coordinator) handleRegister(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.Register
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed register frame", "error", err.Error())
		return nil
	}
	if sess.Authenticated() {
		return sess.conn.WriteStatus("Already authenticated.")
	}

	validEmail, err := cryptoutil.NormalizeEmail(req.Email)
	if err != nil {
		c.collector.AuthAttempt("register", false)
		return sess.conn.WriteStatus(store.MsgInvalidEmail)
	}

	msg, err := c.store.Register(req.Name, validEmail, req.Password)
	if err != nil {
		logger.Error("register failed", "error", err.Error())
		c.collector.AuthAttempt("register", false)
		return sess.conn.WriteStatus(msgInternalError)
	}
	if msg == "" {
		c.bind(sess, validEmail)
		logger.Info("user registered", "email_hash", cryptoutil.EmailHash(validEmail))
	}
	c.collector.AuthAttempt("register", msg == "")
	return sess.conn.WriteStatus(msg)
}

func (c *Coordinator) handleLogin(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.Login
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed login frame", "error", err.Error())
		return nil
	}
	if sess.Authenticated() {
		return sess.conn.WriteStatus("Already authenticated.")
	}

	msg, err := c.store.Authenticate(req.Email, req.Password)
	if err != nil {
		logger.Error("login failed", "error", err.Error())
		c.collector.AuthAttempt("login", false)
		return sess.conn.WriteStatus(msgInternalError)
	}
	if msg == "" {
		c.bind(sess, req.Email)
		logger.Info("user logged in", "email_hash", cryptoutil.EmailHash(req.Email))
	}
	c.collector.AuthAttempt("login", msg == "")
	return sess.conn.WriteStatus(msg)
}

func (c *Coordinator) handleAddContact(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.AddContact
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed add-contact frame", "error", err.Error())
		return nil
	}

	msg, err := c.store.AddContact(sess.Email(), req.Name, req.Email)
	if err != nil {
		logger.Error("add contact failed", "error", err.Error())
		return sess.conn.WriteStatus(msgInternalError)
	}
	return sess.conn.WriteStatus(msg)
}

// handleListContacts computes the mutual online set: contacts of the
// caller that are logged in right now and have added the caller back.
func (c *Coordinator) handleListContacts(ctx context.Context, sess *Session) error {
	contacts := c.store.Contacts(sess.Email())

	online := make(map[string]string)
	for email, name := range contacts {
		c.mu.Lock()
		_, isOnline := c.emailToSession[email]
		c.mu.Unlock()
		if isOnline && c.store.ContactsContain(email, sess.Email()) {
			online[email] = name
		}
	}
	return sess.conn.WriteFrame(wire.TagContactList, wire.ContactList{Contacts: online})
}

// handleTransferRequest validates a sender's transfer request and
// enqueues it for the recipient. Requirements: the recipient is
// online, has added the sender as a contact, and shares the sender's
// network. A repeated request for the same pair overwrites the queued
// one.
func (c *Coordinator) handleTransferRequest(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.TransferRequest
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed transfer request", "error", err.Error())
		return nil
	}

	c.mu.Lock()
	recipSess, online := c.emailToSession[req.RecipientEmail]
	c.mu.Unlock()

	if !online {
		return sess.conn.WriteStatus(fmt.Sprintf("User [%s] is not online", req.RecipientEmail))
	}
	if !c.store.ContactsContain(req.RecipientEmail, sess.Email()) {
		return sess.conn.WriteStatus(fmt.Sprintf("User [%s] has not added you as a contact", sess.Email()))
	}
	if recipSess.RemoteIP() != sess.RemoteIP() {
		return sess.conn.WriteStatus(fmt.Sprintf("User [%s] is not on your network", req.RecipientEmail))
	}

	c.mu.Lock()
	bySender, ok := c.transferRequests[req.RecipientEmail]
	if !ok {
		bySender = make(map[string]wire.FileInfo)
		c.transferRequests[req.RecipientEmail] = bySender
	}
	bySender[sess.Email()] = req.FileInfo
	c.mu.Unlock()

	c.collector.TransferRequested()
	logger.Info("transfer request enqueued",
		"recipient_hash", cryptoutil.EmailHash(req.RecipientEmail),
		"file", req.FileInfo.Name,
		"size", req.FileInfo.Size)
	return sess.conn.WriteStatus("")
}

func (c *Coordinator) handlePollRequests(ctx context.Context, sess *Session) error {
	requests := make(map[string]wire.FileInfo)

	c.mu.Lock()
	for sender, info := range c.transferRequests[sess.Email()] {
		requests[sender] = info
	}
	c.mu.Unlock()

	return sess.conn.WriteFrame(wire.TagPendingRequests, wire.PendingRequests{Requests: requests})
}

// handleAcceptRequest resolves a pending request. An empty sender
// email denies every queued request for this recipient: each waiting
// sender gets an empty-token FTPT and the queue is cleared. A named
// sender gets popped from the queue, a fresh token is issued, and the
// recipient receives it in an FTEA frame. The sender hears nothing
// until the recipient reports its listen port.
func (c *Coordinator) handleAcceptRequest(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.AcceptRequest
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed accept frame", "error", err.Error())
		return nil
	}

	if req.SenderEmail == "" {
		return c.denyAll(ctx, sess)
	}

	c.mu.Lock()
	info, pending := c.transferRequests[sess.Email()][req.SenderEmail]
	if pending {
		delete(c.transferRequests[sess.Email()], req.SenderEmail)
		if len(c.transferRequests[sess.Email()]) == 0 {
			delete(c.transferRequests, sess.Email())
		}
	}
	senderSess, senderOnline := c.emailToSession[req.SenderEmail]
	c.mu.Unlock()

	if !pending || !senderOnline {
		logger.Warn("accept for unavailable request",
			"pending", pending, "sender_online", senderOnline)
		return sess.conn.WriteFrame(wire.TagToken, wire.Token{Token: ""})
	}

	token, err := newToken()
	if err != nil {
		logger.Error("token generation failed", "error", err.Error())
		return sess.conn.WriteFrame(wire.TagToken, wire.Token{Token: ""})
	}

	c.mu.Lock()
	c.rendezvousByRecipient[sess] = rendezvous{token: token, sender: senderSess}
	c.mu.Unlock()

	c.collector.TransferAccepted()
	logger.Info("transfer accepted", "file", info.Name, "size", info.Size)
	return sess.conn.WriteFrame(wire.TagToken, wire.Token{Token: token})
}

// denyAll notifies every queued sender for this recipient with an
// empty token and clears the queue. All senders are notified, not only
// the one the recipient had in mind; clients re-enqueue on the next
// send attempt.
func (c *Coordinator) denyAll(ctx context.Context, sess *Session) error {
	logger := logging.FromContext(ctx)

	c.mu.Lock()
	var senders []*Session
	for sender := range c.transferRequests[sess.Email()] {
		if senderSess, ok := c.emailToSession[sender]; ok {
			senders = append(senders, senderSess)
		}
	}
	delete(c.transferRequests, sess.Email())
	c.mu.Unlock()

	c.collector.TransferDenied()
	logger.Info("transfer requests denied", "senders", len(senders))

	for _, senderSess := range senders {
		if err := senderSess.conn.WriteFrame(wire.TagPortToken, wire.PortToken{Port: 0, Token: ""}); err != nil {
			logger.Debug("denial notification failed", "error", err.Error())
		}
	}
	return nil
}

// handleListenPort forwards the recipient's chosen port, together with
// the rendezvous token, to the waiting sender, then retires the
// rendezvous.
func (c *Coordinator) handleListenPort(ctx context.Context, sess *Session, frame wire.Frame) error {
	logger := logging.FromContext(ctx)

	var req wire.ListenPort
	if err := frame.Decode(&req); err != nil {
		logger.Warn("malformed listen-port frame", "error", err.Error())
		return nil
	}

	c.mu.Lock()
	rv, ok := c.rendezvousByRecipient[sess]
	delete(c.rendezvousByRecipient, sess)
	c.mu.Unlock()

	if !ok {
		logger.Warn("listen port without rendezvous", "port", req.Port)
		return nil
	}

	logger.Info("forwarding rendezvous port", "port", req.Port)
	if err := rv.sender.conn.WriteFrame(wire.TagPortToken, wire.PortToken{Port: req.Port, Token: rv.token}); err != nil {
		logger.Debug("port notification failed", "error", err.Error())
	}
	return nil
}

func newToken() (string, error) {
	raw := make([]byte, tokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
