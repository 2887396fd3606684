package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// LocalLauncher runs jobs in the current process, each on a freshly created
// session, passing request and response through the wire codec.
type LocalLauncher struct {
	Sessions backend.SessionFactory
}

// Launch implements fanout.Launcher.
func (l *LocalLauncher) Launch(ctx context.Context, job fanout.Job) (*table.Table, error) {
	var in, out bytes.Buffer
	if err := json.NewEncoder(&in).Encode(Request{Job: job}); err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	if err := Serve(ctx, &in, &out, l.Sessions); err != nil {
		return nil, &backend.FatalError{Class: backend.ClassWorker, Message: "local worker", Err: err}
	}
	return decodeResponse(&out, job)
}
