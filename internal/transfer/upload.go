package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

// UploadOptions describes one tracked upload.
type UploadOptions struct {
	Path  string // backend path, e.g. /api/plugins/upload
	Title string

	// Filename and Content form the file part; Fields are additional form
	// values. FileField defaults to "file".
	Filename  string
	Content   io.Reader
	FileField string
	Fields    map[string]string
}

// StartUpload runs a tracked multipart upload to completion and returns the
// backend's raw response body. Cancellation removes the item silently; any
// other failure marks it FAILED.
func (t *Tracker) StartUpload(ctx context.Context, opts UploadOptions) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	body, contentType, err := buildMultipart(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload body: %w", err)
	}

	uctx, cancel := context.WithCancel(ctx)
	item := t.newItem(KindUpload, opts.Title, opts.Filename, cancel)
	id := item.ID

	total := int64(body.Len())
	reader := newProgressReader(bytes.NewReader(body.Bytes()), total, func(loaded, tot int64) {
		t.progress(id, loaded, tot)
	})

	resp, err := t.client.Do(uctx, apiclient.RequestOptions{
		Method:             http.MethodPost,
		Path:               opts.Path,
		Body:               reader,
		ContentType:        contentType,
		NoTimeout:          true,
		DisableRouteCancel: true,
	})
	if err != nil {
		return nil, t.uploadFailed(id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.uploadFailed(id, err)
	}

	if !t.finish(id, StatusSuccess, "") {
		t.takeUserCanceled(id)
		return nil, fmt.Errorf("upload %s: %w", opts.Path, apiclient.ErrCanceled)
	}

	t.logger.Info().
		Str("id", id).
		Str("filename", opts.Filename).
		Int64("bytes", total).
		Msg("Upload completed")

	return data, nil
}

func (t *Tracker) uploadFailed(id string, err error) error {
	if t.takeUserCanceled(id) || apiclient.IsCanceled(err) {
		t.removeSilently(id)
		return fmt.Errorf("upload: %w", apiclient.ErrCanceled)
	}

	t.finish(id, StatusFailed, failureMessage(err))
	return err
}

// buildMultipart materializes the multipart body up front so the total size
// is known and upload progress can be reported against it.
func buildMultipart(opts UploadOptions) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for key, value := range opts.Fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	field := opts.FileField
	if field == "" {
		field = "file"
	}
	part, err := w.CreateFormFile(field, opts.Filename)
	if err != nil {
		return nil, "", err
	}
	if opts.Content != nil {
		if _, err := io.Copy(part, opts.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
