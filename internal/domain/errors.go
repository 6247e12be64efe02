package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the broad recoverable/terminal classes. Callers use
// errors.Is to branch on them.
var (
	// ErrConnection marks broker-unreachable conditions. The live driver
	// retries these with bounded backoff; nothing else does.
	ErrConnection = errors.New("broker connection error")

	// ErrRejection marks a broker-rejected order. Terminal for the intent.
	ErrRejection = errors.New("order rejected")

	// ErrDataGap marks missing bars in a requested range.
	ErrDataGap = errors.New("data gap")
)

// ConfigError is an invalid risk or strategy parameter detected at startup.
// It is fatal: the engine refuses to run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DataGapError reports missing bars in a requested range. Backtests abort
// the range; live mode logs and continues with the next available event.
type DataGapError struct {
	Symbol string
	From   time.Time
	To     time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s between %s and %s",
		e.Symbol, e.From.Format(time.RFC3339), e.To.Format(time.RFC3339))
}

func (e *DataGapError) Unwrap() error { return ErrDataGap }

// ConnectionError wraps a transport failure talking to the broker.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return ErrConnection }

// RejectionError reports that the broker rejected an order. It is terminal
// for that intent; a new signal must re-trigger sizing.
type RejectionError struct {
	IntentID string
	Reason   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order %s rejected: %s", e.IntentID, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrRejection }

// ReconciliationConflict reports that local and broker order state disagree
// on restart. It is never silently resolved: the engine freezes new order
// submission for the affected symbol and raises a critical alert.
type ReconciliationConflict struct {
	Symbol   string
	IntentID string
	Detail   string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("reconciliation conflict for %s (intent %s): %s",
		e.Symbol, e.IntentID, e.Detail)
}
