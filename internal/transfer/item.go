package transfer

import "time"

// Kind identifies the direction of a transfer.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// Status represents the current state of a transfer.
// Lifecycle: PREPARING -> TRANSFERRING -> {SUCCESS | FAILED | CANCELED}.
type Status string

const (
	StatusPreparing    Status = "preparing"
	StatusTransferring Status = "transferring"
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Item represents one tracked upload or download.
type Item struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`

	// Loaded/Total are byte counters; Total is -1 until the server reports
	// a length. Both are monotonically non-decreasing while transferring.
	Loaded int64 `json:"loaded"`
	Total  int64 `json:"total"`

	// Progress is 0-100 and is clamped to at most 99 while the transfer is
	// still running, so a rounding artifact cannot show "done" early.
	Progress int `json:"progress"`

	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayProgress returns the percentage the UI should show: exactly 100 for
// any terminal state, the clamped live value otherwise.
func (i Item) DisplayProgress() int {
	if i.Status.Terminal() {
		return 100
	}
	if i.Progress > 99 {
		return 99
	}
	return i.Progress
}
