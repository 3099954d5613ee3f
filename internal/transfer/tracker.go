// Package transfer tracks the lifecycle of uploads and downloads against the
// panel backend: byte-level progress, cancellation, bounded history, and a
// shutdown guard while work is in flight.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

// DefaultHistoryCap bounds the in-memory transfer history for long sessions.
const DefaultHistoryCap = 60

// Config holds tracker configuration.
type Config struct {
	HistoryCap  int
	DownloadDir string

	// OnChange, when set, receives a copy of the item after every state
	// change. Consumers observe transfers reactively rather than through
	// returned errors.
	OnChange func(Item)
}

// Tracker owns the transfer collection. All mutation goes through its
// methods; readers receive copies.
type Tracker struct {
	client *apiclient.Client
	logger zerolog.Logger

	mu           sync.Mutex
	items        []*Item
	aborts       map[string]context.CancelFunc
	userCanceled map[string]bool

	cap         int
	downloadDir string
	onChange    func(Item)
}

// NewTracker creates a transfer tracker issuing requests through client.
func NewTracker(client *apiclient.Client, cfg Config, logger zerolog.Logger) *Tracker {
	historyCap := cfg.HistoryCap
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	dir := cfg.DownloadDir
	if dir == "" {
		dir = "."
	}

	return &Tracker{
		client:       client,
		logger:       logger.With().Str("component", "transfer").Logger(),
		aborts:       make(map[string]context.CancelFunc),
		userCanceled: make(map[string]bool),
		cap:          historyCap,
		downloadDir:  dir,
		onChange:     cfg.OnChange,
	}
}

// newItem registers a fresh transfer in PREPARING state and prunes history.
func (t *Tracker) newItem(kind Kind, title, filename string, cancel context.CancelFunc) *Item {
	item := &Item{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Filename:  filename,
		Status:    StatusPreparing,
		Total:     -1,
		CreatedAt: time.Now(),
	}

	t.mu.Lock()
	t.items = append(t.items, item)
	t.aborts[item.ID] = cancel
	t.pruneLocked()
	snapshot := *item
	t.mu.Unlock()

	t.notify(snapshot)
	return item
}

// pruneLocked drops the oldest entries beyond the cap and releases their
// abort handles. Must be called with t.mu held.
func (t *Tracker) pruneLocked() {
	for len(t.items) > t.cap {
		oldest := t.items[0]
		t.items = t.items[1:]
		if cancel, ok := t.aborts[oldest.ID]; ok {
			cancel()
			delete(t.aborts, oldest.ID)
		}
		delete(t.userCanceled, oldest.ID)
	}
}

func (t *Tracker) notify(item Item) {
	if t.onChange != nil {
		t.onChange(item)
	}
}

// progress applies a progress callback. Late callbacks for removed or
// user-canceled transfers are dropped so a stale read cannot resurrect an
// item.
func (t *Tracker) progress(id string, loaded, total int64) {
	t.mu.Lock()
	item := t.findLocked(id)
	if item == nil || t.userCanceled[id] || item.Status.Terminal() {
		t.mu.Unlock()
		return
	}

	if item.Status == StatusPreparing && loaded > 0 {
		item.Status = StatusTransferring
	}
	if loaded > item.Loaded {
		item.Loaded = loaded
	}
	if total > item.Total {
		item.Total = total
	}
	if item.Total > 0 {
		pct := int(item.Loaded * 100 / item.Total)
		if pct > 99 {
			pct = 99
		}
		if pct > item.Progress {
			item.Progress = pct
		}
	}
	snapshot := *item
	t.mu.Unlock()

	t.notify(snapshot)
}

// finish moves a transfer to a terminal state. Returns false when the item
// is gone or was user-canceled, in which case nothing is recorded.
func (t *Tracker) finish(id string, status Status, message string) bool {
	t.mu.Lock()
	item := t.findLocked(id)
	if item == nil || t.userCanceled[id] {
		t.mu.Unlock()
		return false
	}

	item.Status = status
	item.Progress = 100
	item.Message = message
	if cancel, ok := t.aborts[id]; ok {
		cancel()
		delete(t.aborts, id)
	}
	snapshot := *item
	t.mu.Unlock()

	t.notify(snapshot)
	return true
}

// removeSilently drops a transfer without a terminal notification. Used for
// cancellations, which must not surface as failures.
func (t *Tracker) removeSilently(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Tracker) removeLocked(id string) {
	for i, item := range t.items {
		if item.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			break
		}
	}
	if cancel, ok := t.aborts[id]; ok {
		cancel()
		delete(t.aborts, id)
	}
}

func (t *Tracker) findLocked(id string) *Item {
	for _, item := range t.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Cancel marks a transfer as user-canceled, aborts it, and removes it
// immediately rather than waiting for the in-flight request to settle.
func (t *Tracker) Cancel(id string) {
	t.mu.Lock()
	if t.findLocked(id) == nil {
		t.mu.Unlock()
		return
	}
	t.userCanceled[id] = true
	t.removeLocked(id)
	t.mu.Unlock()

	t.logger.Debug().Str("id", id).Msg("Transfer canceled by user")
}

// Remove drops a single transfer from the history.
func (t *Tracker) Remove(id string) {
	t.removeSilently(id)
}

// ClearFinished removes every terminal transfer. Returns the number removed.
func (t *Tracker) ClearFinished() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.items[:0]
	removed := 0
	for _, item := range t.items {
		if item.Status.Terminal() {
			removed++
			delete(t.userCanceled, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	t.items = kept
	return removed
}

// Items returns a copy of the current transfer list, oldest first.
func (t *Tracker) Items() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Item, len(t.items))
	for i, item := range t.items {
		out[i] = *item
	}
	return out
}

// Get returns a copy of one transfer.
func (t *Tracker) Get(id string) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item := t.findLocked(id); item != nil {
		return *item, true
	}
	return Item{}, false
}

// Counts summarizes the collection. Everything is computed on demand so the
// numbers cannot drift from the item list.
type Counts struct {
	Active          int
	Finished        int
	ActiveUploads   int
	ActiveDownloads int
}

// Counts returns derived counters over the current collection.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()

	var c Counts
	for _, item := range t.items {
		if item.Status.Terminal() {
			c.Finished++
			continue
		}
		c.Active++
		switch item.Kind {
		case KindUpload:
			c.ActiveUploads++
		case KindDownload:
			c.ActiveDownloads++
		}
	}
	return c
}

// Busy reports whether any transfer is still running.
func (t *Tracker) Busy() bool {
	return t.Counts().Active > 0
}

// takeUserCanceled reports whether the transfer was canceled by the user and
// drops the marker. The settling call is the marker's last observer; leaving
// it behind would accumulate one entry per canceled transfer.
func (t *Tracker) takeUserCanceled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	canceled := t.userCanceled[id]
	delete(t.userCanceled, id)
	return canceled
}
