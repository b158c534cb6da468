// Package transfer implements the encrypted chunked file protocol the two
// participants run over their direct channel: framing, optional AES-GCM
// per-chunk encryption, pacing, and progress/error bookkeeping. The relay is
// not involved.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beamdrop/beamdrop/internal/keyex"
)

const (
	// DefaultChunkBytes is the slice size files are partitioned into.
	DefaultChunkBytes = 16 * 1024

	// DefaultPace is the delay between chunk sends, enough to keep the
	// channel's send buffer from flooding without ack-based flow control.
	DefaultPace = 10 * time.Millisecond
)

// Channel is the ordered, reliable message surface between the two
// participants. Text frames carry JSON control messages, binary frames carry
// chunk frames.
type Channel interface {
	SendText(payload []byte) error
	SendBinary(payload []byte) error
}

// Sender streams files over a Channel. A nil Cipher sends plaintext chunks.
type Sender struct {
	log     *slog.Logger
	ch      Channel
	cipher  *keyex.Cipher
	tracker *Tracker

	chunkBytes int
	pace       time.Duration

	newID func() string
}

type SenderOptions struct {
	// Cipher encrypts each chunk when set.
	Cipher *keyex.Cipher

	// ChunkBytes overrides DefaultChunkBytes.
	ChunkBytes int

	// Pace overrides DefaultPace. Negative disables pacing.
	Pace time.Duration
}

func NewSender(log *slog.Logger, ch Channel, opts SenderOptions) *Sender {
	if log == nil {
		log = slog.Default()
	}
	chunkBytes := opts.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	pace := opts.Pace
	if pace == 0 {
		pace = DefaultPace
	}
	return &Sender{
		log:        log,
		ch:         ch,
		cipher:     opts.Cipher,
		tracker:    NewTracker(),
		chunkBytes: chunkBytes,
		pace:       pace,
		newID:      uuid.NewString,
	}
}

// Tracker exposes the sender-side transfer records.
func (s *Sender) Tracker() *Tracker { return s.tracker }

// SendFile streams one file: a file-info control message, then every chunk in
// index order with the last one flagged. It returns the transfer id. On
// failure the record is marked errored, the receiver is told via file-error,
// and the channel stays open.
func (s *Sender) SendFile(ctx context.Context, name string, size int64, mimeType string, r io.Reader) (string, error) {
	fileID := s.newID()
	totalChunks := int((size + int64(s.chunkBytes) - 1) / int64(s.chunkBytes))
	if totalChunks == 0 {
		totalChunks = 1
	}

	if err := s.tracker.Start(fileID, name, size, mimeType); err != nil {
		return fileID, err
	}

	if err := s.run(ctx, fileID, name, size, mimeType, totalChunks, r); err != nil {
		s.tracker.Fail(fileID, err.Error())
		s.notifyError(fileID, err)
		return fileID, err
	}

	s.tracker.Complete(fileID)
	s.log.Info("file sent", "fileId", fileID, "name", name, "size", size, "chunks", totalChunks)
	return fileID, nil
}

func (s *Sender) run(ctx context.Context, fileID, name string, size int64, mimeType string, totalChunks int, r io.Reader) error {
	info := FileInfo{
		Type:        controlFileInfo,
		FileID:      fileID,
		FileName:    name,
		FileSize:    size,
		FileType:    mimeType,
		TotalChunks: totalChunks,
	}
	if err := s.ch.SendText(encodeControl(info)); err != nil {
		return fmt.Errorf("transfer: send file-info: %w", err)
	}

	var sent int64
	buf := make([]byte, s.chunkBytes)

	for chunkIndex := 0; chunkIndex < totalChunks; chunkIndex++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer: cancelled: %w", err)
		}

		want := s.chunkBytes
		if remaining := size - sent; remaining < int64(want) {
			want = int(remaining)
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			return fmt.Errorf("transfer: read chunk %d: %w", chunkIndex, err)
		}

		payload := buf[:n]
		if s.cipher != nil {
			payload, err = s.cipher.Seal(payload)
			if err != nil {
				return fmt.Errorf("transfer: encrypt chunk %d: %w", chunkIndex, err)
			}
		}

		frame, err := EncodeChunkFrame(ChunkHeader{
			FileID:      fileID,
			ChunkIndex:  chunkIndex,
			TotalChunks: totalChunks,
			IsLastChunk: chunkIndex == totalChunks-1,
		}, payload)
		if err != nil {
			return err
		}
		if err := s.ch.SendBinary(frame); err != nil {
			return fmt.Errorf("connection lost during file transfer: %w", err)
		}

		sent += int64(n)
		if size > 0 {
			s.tracker.SetProgress(fileID, int(sent*100/size))
		}

		if s.pace > 0 && chunkIndex < totalChunks-1 {
			select {
			case <-time.After(s.pace):
			case <-ctx.Done():
				return fmt.Errorf("transfer: cancelled: %w", ctx.Err())
			}
		}
	}
	return nil
}

// HandleFileError applies a receiver-reported failure to the matching
// sending record.
func (s *Sender) HandleFileError(msg FileError) {
	s.tracker.Fail(msg.FileID, msg.Error)
	s.log.Warn("peer reported transfer error", "fileId", msg.FileID, "err", msg.Error)
}

func (s *Sender) notifyError(fileID string, cause error) {
	msg := FileError{Type: controlFileError, FileID: fileID, Error: cause.Error()}
	if err := s.ch.SendText(encodeControl(msg)); err != nil {
		s.log.Warn("could not notify peer of transfer error", "fileId", fileID, "err", err)
	}
}
