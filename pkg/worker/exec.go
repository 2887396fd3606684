package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command is the hidden subcommand that serves one job.
const Command = "worker"

var (
	workerProcessesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_worker_processes_total",
		Help: "Total worker processes started by outcome",
	}, []string{"outcome"})

	workerProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_worker_process_duration_seconds",
		Help:    "Wall time of a worker process from start to exit",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	})
)

// ExecLauncher runs every job in a child process of the given executable.
type ExecLauncher struct {
	// Path of the executable. Defaults to the running binary.
	Path string

	// Args passed to the executable. Defaults to []string{Command}.
	Args []string

	// Env is appended to the parent's environment.
	Env []string

	// Stderr receives the child's log output. Defaults to os.Stderr.
	Stderr io.Writer
}

// Launch implements fanout.Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, job fanout.Job) (*table.Table, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, &backend.FatalError{Class: backend.ClassWorker, Message: "locate executable", Err: err}
		}
		path = exe
	}
	args := l.Args
	if args == nil {
		args = []string{Command}
	}
	var stderr io.Writer = os.Stderr
	if l.Stderr != nil {
		stderr = l.Stderr
	}

	payload, err := json.Marshal(Request{Job: job})
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	logger := logging.NewLogger(logging.ComponentWorker).With().Int("job", job.Index).Logger()
	logger.Debug().
		Str("path", path).
		Int("items", len(job.Items)).
		Str("mode", string(job.Mode)).
		Msg("Starting worker process")

	start := time.Now()
	runErr := cmd.Run()
	workerProcessDuration.Observe(time.Since(start).Seconds())

	if runErr != nil {
		workerProcessesTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(runErr).Msg("Worker process failed")
		return nil, &backend.FatalError{Class: backend.ClassWorker, Message: "worker process", Err: runErr}
	}

	tbl, err := decodeResponse(&stdout, job)
	if err != nil {
		workerProcessesTotal.WithLabelValues("job_failed").Inc()
		return nil, err
	}

	workerProcessesTotal.WithLabelValues("success").Inc()
	logger.Debug().
		Int("pid", cmd.ProcessState.Pid()).
		Int("rows", tbl.Len()).
		Dur("duration", time.Since(start)).
		Msg("Worker process finished")
	return tbl, nil
}
