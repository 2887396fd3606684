// Package worker runs fan-out jobs in isolated workers. A worker receives one
// JSON Request on stdin, opens its own backend session, fetches the job's
// chunk and writes one JSON Response to stdout.
//
// ExecLauncher re-executes the current binary with the hidden "worker"
// command; LocalLauncher runs the same protocol in-process.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// Request is sent to a worker.
type Request struct {
	Job fanout.Job `json:"job"`
}

// Response is returned by a worker. Exactly one of Table and Error is set.
type Response struct {
	Index int          `json:"index"`
	Table *table.Table `json:"table,omitempty"`
	Error *Error       `json:"error,omitempty"`
}

// Error is the wire form of a failed job.
type Error struct {
	Class      backend.ErrorClass `json:"class"`
	StatusCode int                `json:"status,omitempty"`
	Message    string             `json:"message"`
	Attempts   int                `json:"attempts,omitempty"`
}

// EncodeError converts err to its wire form. Message carries the failure
// detail without the class header, which Err rebuilds.
func EncodeError(err error) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Class: backend.ClassOf(err), Message: err.Error()}
	if e.Class == "" {
		e.Class = backend.ClassWorker
	}
	switch typed := err.(type) {
	case *backend.FatalError:
		e.StatusCode = typed.StatusCode
		e.Message = detail(typed.Message, typed.Err)
	case *backend.TransientError:
		e.StatusCode = typed.StatusCode
		e.Message = detail(typed.Message, typed.Err)
	}
	var fe *backend.FatalError
	if errors.As(err, &fe) {
		e.Attempts = fe.Attempts
	}
	return e
}

func detail(msg string, err error) string {
	switch {
	case err == nil:
		return msg
	case msg == "":
		return err.Error()
	default:
		return msg + ": " + err.Error()
	}
}

// Err rebuilds the failure as a FatalError. Workers have already spent the
// retry budget, so the parent never retries a failed job.
func (e *Error) Err() error {
	var sentinel error
	switch e.Class {
	case backend.ClassExhausted:
		sentinel = backend.ErrRetryExhausted
	case backend.ClassSession:
		sentinel = backend.ErrSessionClosed
	case backend.ClassProtocol:
		sentinel = backend.ErrMalformedResponse
	}
	return &backend.FatalError{
		Class:      e.Class,
		StatusCode: e.StatusCode,
		Attempts:   e.Attempts,
		Err:        &remoteError{message: e.Message, sentinel: sentinel},
	}
}

// remoteError is a failure reported by a worker. Its text is the worker's
// own; it unwraps to the sentinel of its class.
type remoteError struct {
	message  string
	sentinel error
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.sentinel }

// decodeResponse reads a worker response for job.
func decodeResponse(r io.Reader, job fanout.Job) (*table.Table, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, &backend.FatalError{
			Class:   backend.ClassWorker,
			Message: "decode worker response",
			Err:     err,
		}
	}
	if resp.Error != nil {
		return nil, resp.Error.Err()
	}
	if resp.Index != job.Index {
		return nil, &backend.FatalError{
			Class:   backend.ClassWorker,
			Message: fmt.Sprintf("worker answered job %d, want %d", resp.Index, job.Index),
		}
	}
	if resp.Table == nil {
		return table.New(job.Fields), nil
	}
	return resp.Table, nil
}
