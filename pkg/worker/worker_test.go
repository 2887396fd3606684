package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/fanout-bench/internal/testutil"
	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnv     = "FANOUT_TEST_WORKER"
	helperModeEnv = "FANOUT_TEST_WORKER_MODE"
)

var fatalField = &backend.FatalError{Class: backend.ClassClient, StatusCode: 400, Message: "unknown field"}

// TestMain doubles as the worker binary when re-executed by ExecLauncher tests.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "1" {
		os.Exit(m.Run())
	}

	switch os.Getenv(helperModeEnv) {
	case "crash":
		fmt.Fprintln(os.Stderr, "worker crashed")
		os.Exit(3)
	case "garbage":
		io.Copy(io.Discard, os.Stdin)
		fmt.Fprint(os.Stdout, "not json")
		os.Exit(0)
	case "fail":
		sessions := testutil.EchoSessions(&testutil.FailingFetcher{Err: fatalField}, nil)
		if err := Serve(context.Background(), os.Stdin, os.Stdout, sessions); err != nil {
			os.Exit(1)
		}
	default:
		if err := Serve(context.Background(), os.Stdin, os.Stdout, testutil.EchoSessions(nil, nil)); err != nil {
			os.Exit(1)
		}
	}
	os.Exit(0)
}

func helperLauncher(mode string, stderr io.Writer) *ExecLauncher {
	return &ExecLauncher{
		Path:   os.Args[0],
		Args:   []string{},
		Env:    []string{helperEnv + "=1", helperModeEnv + "=" + mode},
		Stderr: stderr,
	}
}

func testJob() fanout.Job {
	return fanout.Job{
		Index:            4,
		Items:            []string{"AAPL.O", "MSFT.O", "VOD.L"},
		Fields:           []string{"TR.PriceClose", "TR.CompanyName", "TR.IPODate"},
		Mode:             fanout.ModeDirect,
		MinItemsPerChunk: 1,
		ThreadWorkers:    2,
		Retry:            fanout.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
	}
}

func TestError_RoundTrip(t *testing.T) {
	exhausted := backend.Exhausted(5, &backend.TransientError{Class: backend.ClassServer, StatusCode: 503})

	tests := []struct {
		name     string
		err      error
		class    backend.ErrorClass
		attempts int
		sentinel error
	}{
		{name: "exhausted", err: exhausted, class: backend.ClassExhausted, attempts: 5, sentinel: backend.ErrRetryExhausted},
		{name: "client", err: fatalField, class: backend.ClassClient},
		{name: "session", err: &backend.FatalError{Class: backend.ClassSession, Err: backend.ErrSessionClosed}, class: backend.ClassSession, sentinel: backend.ErrSessionClosed},
		{name: "unclassified", err: errors.New("boom"), class: backend.ClassWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(EncodeError(tt.err))
			require.NoError(t, err)

			var wire Error
			require.NoError(t, json.Unmarshal(data, &wire))
			got := wire.Err()

			assert.True(t, backend.IsFatal(got))
			assert.Equal(t, tt.class, backend.ClassOf(got))
			assert.Contains(t, got.Error(), tt.err.Error())
			if tt.sentinel != nil {
				assert.ErrorIs(t, got, tt.sentinel)
			}
			var fe *backend.FatalError
			require.ErrorAs(t, got, &fe)
			assert.Equal(t, tt.attempts, fe.Attempts)
		})
	}

	assert.Nil(t, EncodeError(nil))
}

func TestServe(t *testing.T) {
	job := testJob()
	var in, out bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(Request{Job: job}))

	var session *testutil.FakeSession
	sessions := func() (backend.Session, error) {
		session = &testutil.FakeSession{Fetcher: &testutil.EchoFetcher{}}
		return session, nil
	}

	require.NoError(t, Serve(context.Background(), &in, &out, sessions))

	var resp Response
	require.NoError(t, json.NewDecoder(&out).Decode(&resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, job.Index, resp.Index)
	assert.Equal(t, testutil.EchoTable(job.Items, job.Fields), resp.Table)
	assert.Equal(t, backend.StateClosed, session.State(), "worker must close its session")
}

func TestServe_InvalidRequest(t *testing.T) {
	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader("{"), &out, testutil.EchoSessions(nil, nil))
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestHandle_Failures(t *testing.T) {
	t.Run("session factory", func(t *testing.T) {
		resp := Handle(context.Background(), testJob(), func() (backend.Session, error) {
			return nil, errors.New("no credentials")
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, backend.ClassWorker, resp.Error.Class)
		assert.Nil(t, resp.Table)
	})

	t.Run("fatal fetch", func(t *testing.T) {
		resp := Handle(context.Background(), testJob(), testutil.EchoSessions(&testutil.FailingFetcher{Err: fatalField}, nil))
		require.NotNil(t, resp.Error)
		assert.Equal(t, backend.ClassClient, resp.Error.Class)
	})

	t.Run("exhausted", func(t *testing.T) {
		flaky := &testutil.FlakyFetcher{Next: &testutil.EchoFetcher{}, FailuresPerBatch: 10}
		resp := Handle(context.Background(), testJob(), testutil.EchoSessions(flaky, nil))
		require.NotNil(t, resp.Error)
		assert.Equal(t, backend.ClassExhausted, resp.Error.Class)
		assert.Equal(t, 2, resp.Error.Attempts)
		assert.Equal(t, 2, flaky.Attempts())
	})
}

func TestLocalLauncher(t *testing.T) {
	job := testJob()
	job.Mode = fanout.ModeThreads

	counter := &testutil.SessionCounter{}
	l := &LocalLauncher{Sessions: testutil.EchoSessions(nil, counter)}

	got, err := l.Launch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, testutil.EchoTable(job.Items, job.Fields), got)
	assert.Equal(t, 1, counter.Created())
}

func TestLocalLauncher_Failure(t *testing.T) {
	l := &LocalLauncher{Sessions: testutil.EchoSessions(&testutil.FailingFetcher{Err: fatalField}, nil)}

	_, err := l.Launch(context.Background(), testJob())
	assert.True(t, backend.IsFatal(err))
	assert.Equal(t, backend.ClassClient, backend.ClassOf(err))
}

func TestDecodeResponse(t *testing.T) {
	job := testJob()

	t.Run("wrong index", func(t *testing.T) {
		_, err := decodeResponse(strings.NewReader(`{"index": 9}`), job)
		assert.Equal(t, backend.ClassWorker, backend.ClassOf(err))
	})

	t.Run("empty table", func(t *testing.T) {
		got, err := decodeResponse(strings.NewReader(`{"index": 4}`), job)
		require.NoError(t, err)
		assert.Equal(t, table.New(job.Fields), got)
	})
}

func TestExecLauncher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	var stderr bytes.Buffer
	job := testJob()
	got, err := helperLauncher("echo", &stderr).Launch(context.Background(), job)
	require.NoError(t, err, stderr.String())
	assert.Equal(t, testutil.EchoTable(job.Items, job.Fields), got)
	assert.Contains(t, stderr.String(), "Worker job finished")
}

func TestExecLauncher_JobFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	_, err := helperLauncher("fail", io.Discard).Launch(context.Background(), testJob())
	assert.Equal(t, backend.ClassClient, backend.ClassOf(err))
	assert.Contains(t, err.Error(), "unknown field")
}

func TestExecLauncher_ProcessFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	for _, mode := range []string{"crash", "garbage"} {
		t.Run(mode, func(t *testing.T) {
			_, err := helperLauncher(mode, io.Discard).Launch(context.Background(), testJob())
			require.Error(t, err)
			assert.True(t, backend.IsFatal(err))
			assert.Equal(t, backend.ClassWorker, backend.ClassOf(err))
		})
	}
}

func TestExecLauncher_ProcessFanOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	universe := make([]string, 37)
	for i := range universe {
		universe[i] = fmt.Sprintf("I%02d", i)
	}
	fields := []string{"A", "B"}

	for _, v := range []fanout.Variant{fanout.VariantProcesses, fanout.VariantHybrid} {
		t.Run(string(v), func(t *testing.T) {
			s, err := fanout.New(fanout.RunConfig{
				Variant:          v,
				MinItemsPerChunk: 1,
				MaxWorkers:       3,
				ThreadWorkers:    2,
				Retry:            fanout.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
			}, fanout.Deps{
				Fetcher:  &testutil.EchoFetcher{},
				Launcher: helperLauncher("echo", io.Discard),
			})
			require.NoError(t, err)

			got, err := s.Fetch(context.Background(), universe, fields)
			require.NoError(t, err)
			assert.Equal(t, testutil.EchoTable(universe, fields), got)
		})
	}
}

func TestLocalLauncher_FailedChunkReportedOnce(t *testing.T) {
	universe := make([]string, 40)
	for i := range universe {
		universe[i] = fmt.Sprintf("I%02d", i)
	}
	failing := &testutil.FailingFetcher{
		Err:   &backend.TransientError{Class: backend.ClassServer, StatusCode: 503},
		Match: testutil.Contains("I25"),
	}

	for _, v := range []fanout.Variant{fanout.VariantProcesses, fanout.VariantHybrid} {
		t.Run(string(v), func(t *testing.T) {
			s, err := fanout.New(fanout.RunConfig{
				Variant:          v,
				MinItemsPerChunk: 10,
				MaxWorkers:       4,
				ThreadWorkers:    2,
				Retry:            fanout.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
			}, fanout.Deps{
				Fetcher:  &testutil.EchoFetcher{},
				Launcher: &LocalLauncher{Sessions: testutil.EchoSessions(failing, nil)},
			})
			require.NoError(t, err)

			got, err := s.Fetch(context.Background(), universe, []string{"A"})
			require.Error(t, err)
			assert.Nil(t, got)

			var ce *fanout.ChunkError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, 2, ce.Index)
			assert.Equal(t, "I20", ce.First)
			assert.Equal(t, "I29", ce.Last)
			assert.ErrorIs(t, err, backend.ErrRetryExhausted)
			assert.Equal(t, backend.ClassExhausted, backend.ClassOf(err))

			msg := err.Error()
			assert.Equal(t, 1, strings.Count(msg, "chunk "), msg)
			assert.Equal(t, 1, strings.Count(msg, backend.ErrRetryExhausted.Error()), msg)
			assert.Equal(t, 1, strings.Count(msg, "fatal exhausted error"), msg)
			assert.Contains(t, msg, "status 503")
		})
	}
}
