// Report Generation Retry.
//
// Information Hiding:
// - Attempt loop state (count, last error, terminal state) hidden
// - Delay between attempts honours context cancellation
// - Token usage of every attempt is recorded, including failed ones

package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/deepresearch/events"
	jsonutil "github.com/richinex/deepresearch/internal/json"
	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/storage"
)

// ErrMaxAttempts reports that every generation attempt failed.
var ErrMaxAttempts = errors.New("report generation failed after max attempts")

var errEmptyReport = errors.New("model returned an empty report")

type attemptState int

const (
	attemptRunning attemptState = iota
	attemptSucceeded
	attemptExhausted
)

// attemptMachine bounds report generation.
type attemptMachine struct {
	max      int
	attempts int
	state    attemptState
	lastErr  error
	content  string
}

func newAttemptMachine(max int) *attemptMachine {
	if max < 1 {
		max = 1
	}
	return &attemptMachine{max: max}
}

func (m *attemptMachine) next() bool {
	return m.state == attemptRunning && m.attempts < m.max
}

func (m *attemptMachine) begin() int {
	m.attempts++
	return m.attempts
}

func (m *attemptMachine) fail(err error) {
	m.lastErr = err
	if m.attempts >= m.max {
		m.state = attemptExhausted
	}
}

// abort ends the loop early, e.g. on cancellation.
func (m *attemptMachine) abort(err error) {
	m.lastErr = err
	m.state = attemptExhausted
}

func (m *attemptMachine) succeed(content string) {
	m.content = content
	m.lastErr = nil
	m.state = attemptSucceeded
}

func (m *attemptMachine) succeeded() bool {
	return m.state == attemptSucceeded
}

func (m *attemptMachine) err() error {
	if m.state == attemptSucceeded {
		return nil
	}
	if m.lastErr == nil {
		return ErrMaxAttempts
	}
	return fmt.Errorf("%w (%d attempts): %v", ErrMaxAttempts, m.attempts, m.lastErr)
}

// generate runs the attempt loop against the provider.
func (s *Synthesizer) generate(ctx context.Context, req llm.Request) *attemptMachine {
	m := newAttemptMachine(s.opts.Attempts)
	for m.next() {
		if m.attempts > 0 {
			if err := sleepContext(ctx, s.opts.RetryDelay); err != nil {
				m.abort(err)
				break
			}
		}
		n := m.begin()

		resp, err := s.provider.Complete(ctx, req)
		usage := resp.Usage
		s.state.UpdateMetrics(storage.MetricsUpdate{Tokens: &usage})

		content := unwrapReport(resp.Content())
		if err == nil && content == "" {
			err = errEmptyReport
		}

		data := map[string]any{"attempt": n, "max_attempts": m.max, "success": err == nil}
		if err != nil {
			data["error"] = err.Error()
		}
		s.publish(events.ReportAttempt, data)

		if err != nil {
			s.log.Warn("report attempt failed",
				zap.Int("attempt", n),
				zap.Int("max_attempts", m.max),
				zap.Error(err))
			m.fail(err)
			continue
		}
		m.succeed(content)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// unwrapReport removes a fence the model put around the whole report.
func unwrapReport(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		return jsonutil.StripFences(content)
	}
	return content
}
