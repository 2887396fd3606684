package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// entries decodes one JSON log entry per line.
func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var e map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid log line %q: %v", scanner.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty || cfg.WithPID {
		t.Errorf("Expected plain JSON without pid by default, got %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"DEBUG", zerolog.DebugLevel},
		{LevelError, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"trace", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger_Components(t *testing.T) {
	components := []string{
		ComponentFanout, ComponentRetry, ComponentWorker, ComponentBackend,
		ComponentCache, ComponentRateLimit, ComponentBench, ComponentCLI,
	}

	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	for _, c := range components {
		logger := NewLogger(c)
		logger.Info().Str("variant", "threads").Msg("Run started")
	}

	got := entries(t, buf)
	if len(got) != len(components) {
		t.Fatalf("Expected %d entries, got %d", len(components), len(got))
	}
	for i, c := range components {
		if got[i]["component"] != c {
			t.Errorf("Entry %d: expected component %q, got %v", i, c, got[i]["component"])
		}
		if got[i]["variant"] != "threads" {
			t.Errorf("Entry %d: expected variant field, got %v", i, got[i])
		}
		if _, ok := got[i]["time"]; !ok {
			t.Errorf("Entry %d: expected timestamp, got %v", i, got[i])
		}
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LevelDebug, []string{"Chunk completed", "Batch requested", "Fetch attempt failed", "Retry attempts exhausted"}},
		{LevelInfo, []string{"Batch requested", "Fetch attempt failed", "Retry attempts exhausted"}},
		{LevelWarn, []string{"Fetch attempt failed", "Retry attempts exhausted"}},
		{LevelError, []string{"Retry attempts exhausted"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			Setup(Config{Level: tt.level, Output: buf})

			logger := NewLogger(ComponentRetry)
			logger.Debug().Msg("Chunk completed")
			logger.Info().Msg("Batch requested")
			logger.Warn().Msg("Fetch attempt failed")
			logger.Error().Msg("Retry attempts exhausted")

			var msgs []string
			for _, e := range entries(t, buf) {
				msgs = append(msgs, fmt.Sprint(e["message"]))
			}
			if strings.Join(msgs, "|") != strings.Join(tt.want, "|") {
				t.Errorf("At %s expected %v, got %v", tt.level, tt.want, msgs)
			}
		})
	}
}

func TestSetup_WithPID(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, WithPID: true})

	logger := NewLogger(ComponentWorker)
	logger.Info().Msg("worker ready")

	output := buf.String()
	if !strings.Contains(output, `"pid":`) {
		t.Errorf("Expected output to contain pid field, got %q", output)
	}
	if !strings.Contains(output, `"component":"worker"`) {
		t.Errorf("Expected output to contain worker component, got %q", output)
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, Pretty: true})

	logger := NewLogger(ComponentBench)
	logger.Info().Float64("elapsed_sec", 1.5).Msg("threads execution finished")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "threads execution finished") {
		t.Errorf("Expected message in console output, got %q", output)
	}
}

// Run with -race: strategies log from many goroutines into one writer.
func TestSetup_ConcurrentWritersAreSerialized(t *testing.T) {
	const goroutines, perGoroutine = 8, 50

	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(chunk int) {
			defer wg.Done()
			logger := NewLogger(ComponentRetry)
			for i := 0; i < perGoroutine; i++ {
				logger.Info().Int("chunk", chunk).Int("attempt", i+1).Msg("Batch requested")
			}
		}(g)
	}
	wg.Wait()

	if got := len(entries(t, buf)); got != goroutines*perGoroutine {
		t.Errorf("Expected %d intact entries, got %d", goroutines*perGoroutine, got)
	}
}

func TestSetup_NilOutputDefaultsToStderr(t *testing.T) {
	logger := Setup(Config{Level: LevelError})
	logger.Debug().Msg("discarded")
}
