// Package transfer implements the peer-to-peer leg: a one-shot TLS
// listener on the recipient side and an outbound sender, speaking the
// same framing as the coordinator session. The coordinator is not on
// this path; the rendezvous token gates the stream.
package transfer

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/securedrop-lan/securedrop/internal/cryptoutil"
	"github.com/securedrop-lan/securedrop/internal/server"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

var (
	// ErrTokenMismatch is returned when the sender presents a token
	// other than the one the coordinator issued.
	ErrTokenMismatch = errors.New("transfer token mismatch")

	// ErrHashMismatch is returned when the received file's SHA-256
	// differs from the offered one. The partial file stays on disk.
	ErrHashMismatch = errors.New("file hashes don't match")

	// ErrOutputExists is returned when the output path already exists.
	ErrOutputExists = errors.New("output file already exists")
)

// Receiver accepts exactly one token-gated connection, writes the
// offered file append-only into OutDir and verifies its hash.
type Receiver struct {
	Token     string
	OutDir    string
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Progress  *Progress

	listener net.Listener
}

// Listen binds the receiver to an OS-chosen port.
func (r *Receiver) Listen() error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("binding receiver: %w", err)
	}
	r.listener = tls.NewListener(ln, r.TLSConfig)
	return nil
}

// Port returns the bound port. Valid after Listen.
func (r *Receiver) Port() int {
	if r.listener == nil {
		return 0
	}
	return r.listener.Addr().(*net.TCPAddr).Port
}

// Run accepts one connection, runs the receive protocol and returns
// the path of the written file. The listener is closed as soon as the
// connection is accepted, so concurrent senders are impossible. On any
// failure the partial output file is left on disk.
func (r *Receiver) Run(ctx context.Context) (string, error) {
	if r.listener == nil {
		if err := r.Listen(); err != nil {
			return "", err
		}
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.listener.Close()
		case <-done:
		}
	}()

	netConn, err := r.listener.Accept()
	r.listener.Close()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("accepting sender: %w", err)
	}
	conn := server.NewConnection(netConn, 0, 0)
	defer conn.Close()

	logger.Debug("sender connected", "remote", conn.RemoteAddr().String())
	return r.receive(ctx, conn, logger)
}

func (r *Receiver) receive(ctx context.Context, conn *server.Connection, logger *slog.Logger) (string, error) {
	// First frame must be the offer; everything else is a protocol
	// violation and the stream is dropped unverified.
	frame, err := conn.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("reading offer: %w", err)
	}
	if frame.Tag != wire.TagFileOffer {
		return "", fmt.Errorf("expected %s frame, got %s", wire.TagFileOffer, frame.Tag)
	}
	var offer wire.FileOffer
	if err := frame.Decode(&offer); err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(offer.Token), []byte(r.Token)) != 1 {
		logger.Warn("rejecting sender with bad token")
		return "", ErrTokenMismatch
	}
	if offer.FileInfo.Chunks < 0 {
		return "", fmt.Errorf("invalid chunk count %d", offer.FileInfo.Chunks)
	}

	outPath := filepath.Join(r.OutDir, filepath.Base(offer.FileInfo.Name))
	if _, err := os.Stat(outPath); err == nil {
		return "", fmt.Errorf("%w: %s", ErrOutputExists, outPath)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	logger.Info("receiving file",
		"name", offer.FileInfo.Name,
		"chunks", offer.FileInfo.Chunks,
		"sha256", offer.FileInfo.SHA256)

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	if r.Progress != nil {
		r.Progress.set(0, uint32(offer.FileInfo.Chunks))
	}

	received := 0
	for received < offer.FileInfo.Chunks {
		if ctx.Err() != nil {
			return outPath, ctx.Err()
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			return outPath, fmt.Errorf("reading chunk %d: %w", received, err)
		}
		if frame.Tag != wire.TagFileChunk {
			return outPath, fmt.Errorf("expected %s frame, got %s", wire.TagFileChunk, frame.Tag)
		}
		var chunk wire.FileChunk
		if err := frame.Decode(&chunk); err != nil {
			return outPath, err
		}
		if _, err := out.Write(chunk.Chunk); err != nil {
			return outPath, fmt.Errorf("writing chunk %d: %w", received, err)
		}
		received++
		if r.Progress != nil {
			r.Progress.advance()
		}
	}

	if err := out.Close(); err != nil {
		return outPath, err
	}

	sum, err := cryptoutil.HashFile(outPath)
	if err != nil {
		return outPath, err
	}
	if sum != offer.FileInfo.SHA256 {
		// The sender still learns the outcome before the stream dies.
		_ = conn.WriteStatus("File hashes don't match!")
		return outPath, ErrHashMismatch
	}
	if err := conn.WriteStatus(""); err != nil {
		return outPath, err
	}
	logger.Info("file received", "path", outPath, "chunks", received)
	return outPath, nil
}
