package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

// DownloadOptions describes one tracked download.
type DownloadOptions struct {
	Path  string // backend path, e.g. /api/archives/42/download
	Query url.Values
	Title string

	// DefaultFilename is used when the response carries no usable
	// Content-Disposition header.
	DefaultFilename string

	// Dir overrides the tracker's download directory.
	Dir string

	// Writer, when set, receives the payload instead of a file on disk.
	Writer io.Writer
}

// DownloadResult reports a completed download.
type DownloadResult struct {
	ID       string
	Filename string
	Path     string // empty when written to a caller-supplied writer
	Bytes    int64
}

// StartDownload runs a tracked download to completion. The transfer is
// registered immediately in PREPARING state and observable through the
// tracker while this call blocks. Cancellation (via ctx or Cancel) removes
// the item silently; any other failure marks it FAILED with the best
// available message.
func (t *Tracker) StartDownload(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dctx, cancel := context.WithCancel(ctx)
	item := t.newItem(KindDownload, opts.Title, opts.DefaultFilename, cancel)
	id := item.ID

	// Transfers run with no timeout and outside the route-scoped pool: a
	// navigation must not abort a download the user is waiting on.
	resp, err := t.client.Do(dctx, apiclient.RequestOptions{
		Method:             http.MethodGet,
		Path:               opts.Path,
		Query:              opts.Query,
		NoTimeout:          true,
		DisableRouteCancel: true,
	})
	if err != nil {
		return nil, t.downloadFailed(id, err)
	}
	defer resp.Body.Close()

	filename := FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"), opts.DefaultFilename)
	if filename == "" {
		filename = "download.bin"
	}
	t.setFilename(id, filename)

	total := resp.ContentLength
	reader := newProgressReader(resp.Body, total, func(loaded, tot int64) {
		t.progress(id, loaded, tot)
	})

	written, path, err := t.writePayload(opts, filename, reader)
	if err != nil {
		return nil, t.downloadFailed(id, err)
	}

	if !t.finish(id, StatusSuccess, "") {
		// Canceled while the last bytes were settling; the file is kept but
		// the transfer record is already gone.
		t.takeUserCanceled(id)
		return nil, fmt.Errorf("download %s: %w", opts.Path, apiclient.ErrCanceled)
	}

	t.logger.Info().
		Str("id", id).
		Str("filename", filename).
		Int64("bytes", written).
		Msg("Download completed")

	return &DownloadResult{ID: id, Filename: filename, Path: path, Bytes: written}, nil
}

// writePayload streams the body to the caller's writer or to a file in the
// download directory. Files are written to a .part temp name and renamed on
// success so an interrupted download never leaves a partial file behind.
func (t *Tracker) writePayload(opts DownloadOptions, filename string, r io.Reader) (int64, string, error) {
	if opts.Writer != nil {
		n, err := io.Copy(opts.Writer, r)
		return n, "", err
	}

	dir := opts.Dir
	if dir == "" {
		dir = t.downloadDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, "", fmt.Errorf("failed to create download directory: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(filename))
	tmp := dest + ".part"

	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create output file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return n, "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return n, "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return n, "", err
	}

	return n, dest, nil
}

// downloadFailed resolves the terminal state for a failed download: silent
// removal when canceled, FAILED with a human-readable message otherwise.
func (t *Tracker) downloadFailed(id string, err error) error {
	if t.takeUserCanceled(id) || apiclient.IsCanceled(err) {
		t.removeSilently(id)
		return fmt.Errorf("download: %w", apiclient.ErrCanceled)
	}

	t.finish(id, StatusFailed, failureMessage(err))
	return err
}

func (t *Tracker) setFilename(id, filename string) {
	t.mu.Lock()
	if item := t.findLocked(id); item != nil {
		item.Filename = filename
	}
	t.mu.Unlock()
}

// failureMessage resolves the best human-readable message for a transfer
// failure: the backend's structured detail when present, the raw error text
// otherwise.
func failureMessage(err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}
