package transfer

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

func TestStartDownload_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("chunk"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="backup.tar.gz"`)
		w.Header().Set("Content-Length", "5000")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracker := newTestTracker(t, srv.URL, Config{DownloadDir: dir})

	res, err := tracker.StartDownload(nil, DownloadOptions{
		Path:            "/api/archives/1/download",
		Title:           "backup",
		DefaultFilename: "fallback.bin",
	})
	if err != nil {
		t.Fatalf("StartDownload() error = %v", err)
	}

	if res.Filename != "backup.tar.gz" {
		t.Errorf("Filename = %q, want backup.tar.gz", res.Filename)
	}
	if res.Bytes != 5000 {
		t.Errorf("Bytes = %d, want 5000", res.Bytes)
	}

	data, err := os.ReadFile(filepath.Join(dir, "backup.tar.gz"))
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("downloaded payload mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "backup.tar.gz.part")); !os.IsNotExist(err) {
		t.Error("temp .part file left behind")
	}

	item, ok := tracker.Get(res.ID)
	if !ok {
		t.Fatal("transfer record missing after completion")
	}
	if item.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", item.Status)
	}
	if item.DisplayProgress() != 100 {
		t.Errorf("DisplayProgress() = %d, want 100", item.DisplayProgress())
	}
}

func TestStartDownload_WriterSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("log contents"))
	}))
	defer srv.Close()

	tracker := newTestTracker(t, srv.URL, Config{})

	var buf bytes.Buffer
	res, err := tracker.StartDownload(nil, DownloadOptions{
		Path:            "/api/servers/1/logs/latest",
		DefaultFilename: "latest.log",
		Writer:          &buf,
	})
	if err != nil {
		t.Fatalf("StartDownload() error = %v", err)
	}
	if buf.String() != "log contents" {
		t.Errorf("payload = %q, want %q", buf.String(), "log contents")
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty for writer sink", res.Path)
	}
}

func TestStartDownload_FailureRecordsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"archive is still being built"}`))
	}))
	defer srv.Close()

	tracker := newTestTracker(t, srv.URL, Config{DownloadDir: t.TempDir()})

	_, err := tracker.StartDownload(nil, DownloadOptions{
		Path:            "/api/archives/1/download",
		DefaultFilename: "backup.zip",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if apiclient.IsCanceled(err) {
		t.Fatalf("failure misclassified as canceled: %v", err)
	}

	items := tracker.Items()
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Status != StatusFailed {
		t.Errorf("Status = %q, want failed", items[0].Status)
	}
	if items[0].Message != "archive is still being built" {
		t.Errorf("Message = %q, want structured backend detail", items[0].Message)
	}
	if items[0].DisplayProgress() != 100 {
		t.Errorf("DisplayProgress() = %d, want 100", items[0].DisplayProgress())
	}
}

func TestStartDownload_CancelRemovesSilently(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	tracker := newTestTracker(t, srv.URL, Config{DownloadDir: t.TempDir()})

	errCh := make(chan error, 1)
	go func() {
		_, err := tracker.StartDownload(nil, DownloadOptions{
			Path:            "/api/archives/1/download",
			DefaultFilename: "backup.zip",
		})
		errCh <- err
	}()

	<-started
	deadline := time.Now().Add(2 * time.Second)
	for len(tracker.Items()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transfer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	tracker.Cancel(tracker.Items()[0].ID)

	err := <-errCh
	if !apiclient.IsCanceled(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}

	// Canceled transfers leave no FAILED record behind.
	if len(tracker.Items()) != 0 {
		t.Errorf("len(items) = %d, want 0 after cancel", len(tracker.Items()))
	}

	// The cancel marker is released once the request settles.
	tracker.mu.Lock()
	leaked := len(tracker.userCanceled)
	tracker.mu.Unlock()
	if leaked != 0 {
		t.Errorf("cancel markers remaining = %d, want 0", leaked)
	}
}
