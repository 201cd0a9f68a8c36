package engine

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"delphi/internal/strategy"

	"github.com/shopspring/decimal"
)

// Decision is one line of the decision journal, written for every evaluated
// tick.
type Decision struct {
	RunID           string          `json:"run_id"`
	Timestamp       time.Time       `json:"timestamp"`
	TickTime        time.Time       `json:"tick_time"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	InstantMomentum decimal.Decimal `json:"instant_momentum"`
	LongMomentum    decimal.Decimal `json:"long_momentum"`
	Intent          strategy.Action `json:"intent"`
	Reason          string          `json:"reason,omitempty"`
	Result          string          `json:"result"`
	Error           string          `json:"error,omitempty"`
	OrderID         string          `json:"order_id,omitempty"`
	ClientOrderID   string          `json:"client_order_id,omitempty"`
	Canceled        int             `json:"canceled,omitempty"`
}

// DecisionLogger appends decisions as newline-delimited JSON. A nil
// *DecisionLogger discards everything.
type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewDecisionLogger opens path for appending. An empty path disables the
// journal and returns a nil logger.
func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	if d == nil {
		return ""
	}
	return d.runID
}

func (d *DecisionLogger) Append(decision Decision) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if decision.RunID == "" {
		decision.RunID = d.runID
	}
	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("marshal decision failed", "error", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		slog.Error("write decision failed", "error", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		slog.Error("flush decision log failed", "error", err)
	}
}

func (d *DecisionLogger) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
