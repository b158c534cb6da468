package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/beamdrop/beamdrop/internal/keyex"
)

// SinkFactory opens the destination for an announced file. The returned
// WriteCloser receives chunk plaintext in arrival order.
type SinkFactory func(info FileInfo) (io.WriteCloser, error)

type receivingFile struct {
	info    FileInfo
	sink    io.WriteCloser
	written int64
	done    bool
}

// Receiver consumes the peer's control messages and chunk frames. A failure
// in one file aborts only that file's sink and reports file-error back; the
// channel stays open for other transfers.
type Receiver struct {
	log     *slog.Logger
	ch      Channel
	cipher  *keyex.Cipher
	sinks   SinkFactory
	tracker *Tracker

	mu    sync.Mutex
	files map[string]*receivingFile
}

// NewReceiver builds a Receiver. A nil cipher means chunks are treated as
// plaintext; with a cipher set, payloads too short to carry an IV are still
// passed through raw.
func NewReceiver(log *slog.Logger, ch Channel, cipher *keyex.Cipher, sinks SinkFactory) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:     log,
		ch:      ch,
		cipher:  cipher,
		sinks:   sinks,
		tracker: NewTracker(),
		files:   make(map[string]*receivingFile),
	}
}

// Tracker exposes the receiver-side transfer records.
func (r *Receiver) Tracker() *Tracker { return r.tracker }

// HandleText processes a JSON control frame.
func (r *Receiver) HandleText(raw []byte) error {
	msg, err := ParseControlMessage(raw)
	if err != nil {
		return err
	}

	switch msg := msg.(type) {
	case FileInfo:
		return r.openFile(msg)
	case FileError:
		r.abortFile(msg.FileID, msg.Error, false)
		return nil
	default:
		return fmt.Errorf("transfer: unhandled control message")
	}
}

// HandleBinary processes one chunk frame.
func (r *Receiver) HandleBinary(frame []byte) error {
	header, payload, err := DecodeChunkFrame(frame)
	if err != nil {
		return err
	}

	r.mu.Lock()
	file, ok := r.files[header.FileID]
	if !ok || file.done {
		r.mu.Unlock()
		return fmt.Errorf("transfer: chunk for unknown file %s", header.FileID)
	}
	r.mu.Unlock()

	chunk := payload
	if r.cipher != nil && len(payload) > keyex.IVBytes {
		chunk, err = r.cipher.Open(payload)
		if err != nil {
			r.abortFile(header.FileID, "failed to decrypt chunk", true)
			return err
		}
	}

	if _, err := file.sink.Write(chunk); err != nil {
		r.abortFile(header.FileID, "failed to write chunk", true)
		return fmt.Errorf("transfer: write chunk %d: %w", header.ChunkIndex, err)
	}

	r.mu.Lock()
	file.written += int64(len(chunk))
	written := file.written
	last := header.IsLastChunk
	if last {
		file.done = true
	}
	r.mu.Unlock()

	if file.info.FileSize > 0 {
		// Rounded to the nearest point, capped below 100 until the last chunk.
		progress := int((written*100 + file.info.FileSize/2) / file.info.FileSize)
		if progress > 99 && !last {
			progress = 99
		}
		r.tracker.SetProgress(header.FileID, progress)
	} else {
		r.tracker.SetProgress(header.FileID, 0)
	}

	if last {
		if err := file.sink.Close(); err != nil {
			r.abortFile(header.FileID, "failed to finalize file", true)
			return fmt.Errorf("transfer: finalize %s: %w", header.FileID, err)
		}
		r.tracker.Complete(header.FileID)
		r.log.Info("file received", "fileId", header.FileID, "name", file.info.FileName, "bytes", written)
	}
	return nil
}

// Close aborts every file still receiving. Open sinks become errors, never
// silent drops.
func (r *Receiver) Close() {
	r.mu.Lock()
	var open []string
	for id, f := range r.files {
		if !f.done {
			open = append(open, id)
		}
	}
	r.mu.Unlock()

	for _, id := range open {
		r.abortFile(id, "connection closed during transfer", false)
	}
}

func (r *Receiver) openFile(info FileInfo) error {
	sink, err := r.sinks(info)
	if err != nil {
		r.tracker.Fail(info.FileID, "failed to open file sink")
		r.reportError(info.FileID, "failed to open file sink")
		return fmt.Errorf("transfer: open sink for %s: %w", info.FileID, err)
	}

	r.mu.Lock()
	if _, exists := r.files[info.FileID]; exists {
		r.mu.Unlock()
		_ = sink.Close()
		return fmt.Errorf("transfer: duplicate file-info for %s", info.FileID)
	}
	r.files[info.FileID] = &receivingFile{info: info, sink: sink}
	r.mu.Unlock()

	if err := r.tracker.Start(info.FileID, info.FileName, info.FileSize, info.FileType); err != nil {
		return err
	}
	r.log.Info("file announced", "fileId", info.FileID, "name", info.FileName, "size", info.FileSize, "chunks", info.TotalChunks)
	return nil
}

// abortFile tears down one file's sink and marks its record errored. When
// report is set, the sender is notified with a file-error message.
func (r *Receiver) abortFile(fileID, message string, report bool) {
	r.mu.Lock()
	file, ok := r.files[fileID]
	if ok && !file.done {
		file.done = true
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok && file.sink != nil {
		_ = file.sink.Close()
	}
	r.tracker.Fail(fileID, message)

	if report {
		r.reportError(fileID, message)
	}
	r.log.Warn("transfer aborted", "fileId", fileID, "reason", message)
}

func (r *Receiver) reportError(fileID, message string) {
	if r.ch == nil {
		return
	}
	msg := FileError{Type: controlFileError, FileID: fileID, Error: message}
	if err := r.ch.SendText(encodeControl(msg)); err != nil {
		r.log.Warn("could not report transfer error to peer", "fileId", fileID, "err", err)
	}
}
