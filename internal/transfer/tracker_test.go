package transfer

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

func newTestTracker(t *testing.T, baseURL string, cfg Config) *Tracker {
	t.Helper()

	client, err := apiclient.New(apiclient.Options{
		BaseURL: baseURL,
		Logger:  zerolog.New(zerolog.NewTestWriter(t)),
	})
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}
	return NewTracker(client, cfg, zerolog.New(zerolog.NewTestWriter(t)))
}

func TestItem_DisplayProgress(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want int
	}{
		{"preparing", Item{Status: StatusPreparing, Progress: 0}, 0},
		{"transferring mid", Item{Status: StatusTransferring, Progress: 57}, 57},
		{"transferring clamped", Item{Status: StatusTransferring, Progress: 100}, 99},
		{"success", Item{Status: StatusSuccess, Progress: 83}, 100},
		{"failed", Item{Status: StatusFailed, Progress: 12}, 100},
		{"canceled", Item{Status: StatusCanceled, Progress: 0}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.DisplayProgress(); got != tt.want {
				t.Errorf("DisplayProgress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTracker_PruneOldestFirst(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{HistoryCap: 60})

	var firstID string
	for i := 0; i < 61; i++ {
		item := tracker.newItem(KindUpload, fmt.Sprintf("upload %d", i), "f.bin", func() {})
		if i == 0 {
			firstID = item.ID
		}
	}

	items := tracker.Items()
	if len(items) != 60 {
		t.Fatalf("len(items) = %d, want 60", len(items))
	}
	if _, ok := tracker.Get(firstID); ok {
		t.Error("oldest item should have been pruned")
	}
	if items[0].Title != "upload 1" {
		t.Errorf("items[0].Title = %q, want %q", items[0].Title, "upload 1")
	}
}

func TestTracker_ProgressTransitionsAndClamp(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	item := tracker.newItem(KindDownload, "map", "map.zip", func() {})
	id := item.ID

	tracker.progress(id, 50, 100)
	got, _ := tracker.Get(id)
	if got.Status != StatusTransferring {
		t.Errorf("Status = %q, want transferring after first data", got.Status)
	}
	if got.Progress != 50 {
		t.Errorf("Progress = %d, want 50", got.Progress)
	}

	// Even at 100% of known bytes, the live value stays at 99.
	tracker.progress(id, 100, 100)
	got, _ = tracker.Get(id)
	if got.Progress != 99 {
		t.Errorf("Progress = %d, want clamped 99 while non-terminal", got.Progress)
	}
	if got.DisplayProgress() != 99 {
		t.Errorf("DisplayProgress() = %d, want 99", got.DisplayProgress())
	}

	// Loaded never regresses on an out-of-order callback.
	tracker.progress(id, 80, 100)
	got, _ = tracker.Get(id)
	if got.Loaded != 100 {
		t.Errorf("Loaded = %d, want 100 (monotonic)", got.Loaded)
	}

	tracker.finish(id, StatusSuccess, "")
	got, _ = tracker.Get(id)
	if got.DisplayProgress() != 100 {
		t.Errorf("terminal DisplayProgress() = %d, want 100", got.DisplayProgress())
	}
}

func TestTracker_CancelRemovesImmediately(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	aborted := false
	item := tracker.newItem(KindDownload, "map", "map.zip", func() { aborted = true })

	tracker.Cancel(item.ID)

	if _, ok := tracker.Get(item.ID); ok {
		t.Error("canceled item should be removed immediately")
	}
	if !aborted {
		t.Error("abort handle should have been invoked")
	}

	// A late progress callback must not resurrect the removed transfer.
	tracker.progress(item.ID, 10, 100)
	if len(tracker.Items()) != 0 {
		t.Error("late progress resurrected a canceled transfer")
	}

	// A late completion must be dropped too.
	if tracker.finish(item.ID, StatusSuccess, "") {
		t.Error("late finish should report the item as gone")
	}
}

func TestTracker_CancelMarkerReleasedOnSettlement(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	down := tracker.newItem(KindDownload, "map", "map.zip", func() {})
	tracker.Cancel(down.ID)
	if err := tracker.downloadFailed(down.ID, errors.New("connection reset")); !apiclient.IsCanceled(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}

	up := tracker.newItem(KindUpload, "jar", "plugin.jar", func() {})
	tracker.Cancel(up.ID)
	if err := tracker.uploadFailed(up.ID, errors.New("broken pipe")); !apiclient.IsCanceled(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}

	tracker.mu.Lock()
	leaked := len(tracker.userCanceled)
	tracker.mu.Unlock()
	if leaked != 0 {
		t.Errorf("cancel markers remaining = %d, want 0 after settlement", leaked)
	}
}

func TestTracker_Counts(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	up := tracker.newItem(KindUpload, "jar", "plugin.jar", func() {})
	tracker.newItem(KindDownload, "map", "map.zip", func() {})
	done := tracker.newItem(KindDownload, "old", "old.zip", func() {})
	tracker.finish(done.ID, StatusSuccess, "")

	c := tracker.Counts()
	if c.Active != 2 || c.Finished != 1 {
		t.Errorf("Counts = %+v, want Active=2 Finished=1", c)
	}
	if c.ActiveUploads != 1 || c.ActiveDownloads != 1 {
		t.Errorf("Counts = %+v, want one active upload and one active download", c)
	}
	if !tracker.Busy() {
		t.Error("Busy() = false, want true")
	}

	tracker.finish(up.ID, StatusFailed, "boom")
	tracker.Cancel(tracker.Items()[1].ID)
	if tracker.Busy() {
		t.Error("Busy() = true, want false after all transfers settled")
	}
}

func TestTracker_ClearFinished(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	a := tracker.newItem(KindUpload, "a", "a.bin", func() {})
	tracker.newItem(KindUpload, "b", "b.bin", func() {})
	tracker.finish(a.ID, StatusSuccess, "")

	if removed := tracker.ClearFinished(); removed != 1 {
		t.Errorf("ClearFinished() = %d, want 1", removed)
	}
	if len(tracker.Items()) != 1 {
		t.Errorf("len(items) = %d, want 1", len(tracker.Items()))
	}
}

func TestUnloadGuard(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})
	item := tracker.newItem(KindUpload, "big", "world.tar", func() {})

	confirmed := make(chan int, 2)
	allow := false
	guard := tracker.NewUnloadGuard(func(active int) bool {
		confirmed <- active
		return allow
	})
	defer guard.Remove()

	// Active transfer + declined confirmation: shutdown is held.
	guard.sigCh <- os.Interrupt
	select {
	case n := <-confirmed:
		if n != 1 {
			t.Errorf("confirm active = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("confirm callback never invoked")
	}
	select {
	case <-guard.Done():
		t.Fatal("shutdown proceeded despite declined confirmation")
	case <-time.After(50 * time.Millisecond):
	}

	// Accepted confirmation: shutdown proceeds.
	allow = true
	guard.sigCh <- os.Interrupt
	select {
	case <-guard.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown did not proceed after confirmation")
	}

	_ = item
}

func TestUnloadGuard_NoActiveTransfersPassesThrough(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	guard := tracker.NewUnloadGuard(func(active int) bool {
		t.Error("confirm should not be consulted with no active transfers")
		return false
	})
	defer guard.Remove()

	guard.sigCh <- os.Interrupt
	select {
	case <-guard.Done():
	case <-time.After(time.Second):
		t.Fatal("idle guard should let the signal through")
	}
}

func TestUnloadGuard_RemoveIsIdempotent(t *testing.T) {
	tracker := newTestTracker(t, "http://127.0.0.1:1", Config{})

	guard := tracker.NewUnloadGuard(nil)
	guard.Remove()
	guard.Remove()
}
