package transfer

import (
	"fmt"
	"sort"
	"sync"
)

// Status is a file transfer's lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// FileTransfer is the per-file, per-direction bookkeeping record. One
// instance per file per session; never reused across files.
type FileTransfer struct {
	ID       string
	Name     string
	Size     int64
	MimeType string

	// Progress is 0..100. It only reaches 100 together with
	// StatusCompleted.
	Progress int
	Status   Status
	Err      string
}

// Tracker holds the transfer records for one direction of one session.
// Progress updates are clamped monotonic.
type Tracker struct {
	mu    sync.Mutex
	files map[string]*FileTransfer
}

func NewTracker() *Tracker {
	return &Tracker{files: make(map[string]*FileTransfer)}
}

func (t *Tracker) Start(id, name string, size int64, mimeType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[id]; ok {
		return fmt.Errorf("transfer: file %s already tracked", id)
	}
	t.files[id] = &FileTransfer{
		ID:       id,
		Name:     name,
		Size:     size,
		MimeType: mimeType,
		Status:   StatusPending,
	}
	return nil
}

// SetProgress records progress for a transferring file. Values below the
// current progress are ignored; 100 is reserved for Complete.
func (t *Tracker) SetProgress(id string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if !ok || f.Status == StatusCompleted || f.Status == StatusError {
		return
	}
	if progress > 99 {
		progress = 99
	}
	if progress > f.Progress {
		f.Progress = progress
	}
	f.Status = StatusTransferring
}

func (t *Tracker) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if !ok || f.Status == StatusError {
		return
	}
	f.Progress = 100
	f.Status = StatusCompleted
}

func (t *Tracker) Fail(id, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if !ok || f.Status == StatusCompleted {
		return
	}
	f.Status = StatusError
	f.Err = message
}

func (t *Tracker) Get(id string) (FileTransfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if !ok {
		return FileTransfer{}, false
	}
	return *f, true
}

// Snapshot returns all records ordered by id for stable output.
func (t *Tracker) Snapshot() []FileTransfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FileTransfer, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
