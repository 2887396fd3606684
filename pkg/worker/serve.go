package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
)

// Serve handles a single job: it decodes a Request from r, runs it on a new
// session from sessions and encodes the Response to w. Job failures are
// reported in the Response; the returned error covers protocol failures only.
func Serve(ctx context.Context, r io.Reader, w io.Writer, sessions backend.SessionFactory) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode worker request: %w", err)
	}

	resp := Handle(ctx, req.Job, sessions)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode worker response: %w", err)
	}
	return nil
}

// Handle runs job on its own session and builds the response.
func Handle(ctx context.Context, job fanout.Job, sessions backend.SessionFactory) Response {
	logger := logging.NewLogger(logging.ComponentWorker).With().
		Int("pid", os.Getpid()).
		Int("job", job.Index).
		Logger()

	start := time.Now()
	resp := Response{Index: job.Index}

	session, err := sessions()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create backend session")
		resp.Error = EncodeError(&backend.FatalError{Class: backend.ClassWorker, Message: "create session", Err: err})
		return resp
	}

	if err := session.Open(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to open backend session")
		resp.Error = EncodeError(err)
		return resp
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close backend session")
		}
	}()

	logger.Info().
		Int("items", len(job.Items)).
		Str("mode", string(job.Mode)).
		Msg("Worker job started")

	tbl, err := fanout.RunJob(ctx, job, session)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Worker job failed")
		// The parent reports the failing chunk with its own index and range.
		var ce *fanout.ChunkError
		if errors.As(err, &ce) {
			err = ce.Err
		}
		resp.Error = EncodeError(err)
		return resp
	}

	logger.Info().
		Int("rows", tbl.Len()).
		Dur("duration", time.Since(start)).
		Msg("Worker job finished")
	resp.Table = tbl
	return resp
}
