package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/securedrop-lan/securedrop/internal/server"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

// ErrReceiverRejected is returned when the receiver reports a
// non-empty final status.
var ErrReceiverRejected = errors.New("receiver rejected transfer")

// Sender dials the recipient's one-shot listener and streams one file.
type Sender struct {
	Host      string
	Port      int
	Token     string
	FilePath  string
	SHA256    string
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Progress  *Progress
}

// Run performs the whole sender protocol: offer, chunks, final status.
// It returns nil only when the receiver confirmed a matching hash.
func (s *Sender) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(s.FilePath)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	totalChunks := int((info.Size() + wire.ChunkSize - 1) / wire.ChunkSize)

	dialer := &tls.Dialer{Config: s.TLSConfig}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing receiver: %w", err)
	}
	conn := server.NewConnection(netConn, 0, 0)
	defer conn.Close()

	// A cancelled context kills the stream; the receiver keeps the
	// partial file.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	offer := wire.FileOffer{
		FileInfo: wire.OfferInfo{
			Name:   filepath.Base(s.FilePath),
			Chunks: totalChunks,
			SHA256: s.SHA256,
		},
		Token: s.Token,
	}
	if err := conn.WriteFrame(wire.TagFileOffer, offer); err != nil {
		return fmt.Errorf("sending offer: %w", err)
	}

	if s.Progress != nil {
		s.Progress.set(0, uint32(totalChunks))
	}

	f, err := os.Open(s.FilePath)
	if err != nil {
		return fmt.Errorf("opening input file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, wire.ChunkSize)
	sent := 0
	for sent < totalChunks {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Short read on the last chunk is expected; a file that
			// shrank mid-transfer fails the hash check on the far end.
			err = nil
		}
		if err != nil {
			return fmt.Errorf("reading chunk %d: %w", sent, err)
		}
		if n == 0 {
			break
		}
		if err := conn.WriteFrame(wire.TagFileChunk, wire.FileChunk{Chunk: buf[:n]}); err != nil {
			return fmt.Errorf("sending chunk %d: %w", sent, err)
		}
		sent++
		if s.Progress != nil {
			s.Progress.advance()
		}
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("awaiting receiver status: %w", err)
	}
	if frame.Tag != wire.TagStatus {
		return fmt.Errorf("expected %s frame, got %s", wire.TagStatus, frame.Tag)
	}
	var status wire.Status
	if err := frame.Decode(&status); err != nil {
		return err
	}
	if status.Message != "" {
		return fmt.Errorf("%w: %s", ErrReceiverRejected, status.Message)
	}

	logger.Info("file sent", "path", s.FilePath, "chunks", sent)
	return nil
}
