package job

import (
	"errors"
	"time"

	"reelchain/internal/services"
)

// ErrorDetail is the structured form of a failure persisted in snapshots.
type ErrorDetail struct {
	Kind      services.Kind `json:"kind"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
	At        time.Time     `json:"at"`
}

// NewErrorDetail classifies err. A nil err yields nil.
func NewErrorDetail(err error, at time.Time) *ErrorDetail {
	if err == nil {
		return nil
	}
	return &ErrorDetail{
		Kind:      services.KindOf(err),
		Message:   err.Error(),
		Retryable: services.Retryable(err),
		At:        at.UTC(),
	}
}

func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// ErrJobFinished is returned for operations on completed or failed jobs.
var ErrJobFinished = errors.New("job already finished")
