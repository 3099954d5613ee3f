package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

func TestStartUpload_Success(t *testing.T) {
	var gotFilename, gotField string
	var gotContent []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotField = r.FormValue("serverId")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotContent, _ = io.ReadAll(file)

		json.NewEncoder(w).Encode(map[string]string{"id": "plugin-7"})
	}))
	defer srv.Close()

	tracker := newTestTracker(t, srv.URL, Config{})

	body, err := tracker.StartUpload(context.Background(), UploadOptions{
		Path:     "/api/plugins/upload",
		Title:    "essentials",
		Filename: "essentials.jar",
		Content:  strings.NewReader("jar bytes"),
		Fields:   map[string]string{"serverId": "1"},
	})
	if err != nil {
		t.Fatalf("StartUpload() error = %v", err)
	}

	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp["id"] != "plugin-7" {
		t.Errorf("response id = %q, want plugin-7", resp["id"])
	}

	if gotFilename != "essentials.jar" {
		t.Errorf("uploaded filename = %q, want essentials.jar", gotFilename)
	}
	if gotField != "1" {
		t.Errorf("serverId field = %q, want 1", gotField)
	}
	if !bytes.Equal(gotContent, []byte("jar bytes")) {
		t.Error("uploaded content mismatch")
	}

	items := tracker.Items()
	if len(items) != 1 || items[0].Status != StatusSuccess {
		t.Errorf("items = %+v, want one successful upload", items)
	}
	if items[0].Kind != KindUpload {
		t.Errorf("Kind = %q, want upload", items[0].Kind)
	}
}

func TestStartUpload_FailureRecordsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"plugin rejected: invalid manifest"}`))
	}))
	defer srv.Close()

	tracker := newTestTracker(t, srv.URL, Config{})

	_, err := tracker.StartUpload(context.Background(), UploadOptions{
		Path:     "/api/plugins/upload",
		Filename: "broken.jar",
		Content:  strings.NewReader("oops"),
	})
	if err == nil {
		t.Fatal("expected error")
	}

	items := tracker.Items()
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Status != StatusFailed {
		t.Errorf("Status = %q, want failed", items[0].Status)
	}
	if items[0].Message != "plugin rejected: invalid manifest" {
		t.Errorf("Message = %q", items[0].Message)
	}
}

func TestStartUpload_ContextCancelRemovesSilently(t *testing.T) {
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

	tracker := newTestTracker(t, srv.URL, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := tracker.StartUpload(ctx, UploadOptions{
			Path:     "/api/worlds/upload",
			Filename: "world.tar",
			Content:  strings.NewReader("world data"),
		})
		errCh <- err
	}()

	<-started
	cancel()

	err := <-errCh
	if !apiclient.IsCanceled(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if len(tracker.Items()) != 0 {
		t.Errorf("len(items) = %d, want 0 after context cancel", len(tracker.Items()))
	}
}
