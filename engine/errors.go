/*
errors.go - Error types for the rule engine

PURPOSE:
  The engine itself never fails on business input: malformed values resolve
  to safe defaults and unclassifiable cases resolve to sentinels. The only
  errors are configuration errors (raised before a run starts) and per-record
  failures captured during batch runs.

ERROR CATEGORIES:
  1. Configuration errors - invalid thresholds or rates, see Config.Validate
  2. Record errors - a single record failed inside a batch; the batch goes on

SEE ALSO:
  - config.go: Validate()
  - engine.go: DeriveBatch captures RecordError values
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfig is returned when an engine configuration fails validation.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrRecordFailed wraps any unexpected failure while deriving one record.
	ErrRecordFailed = errors.New("record derivation failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// RecordError identifies a record that could not be derived in a batch.
type RecordError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("policy %s: %s", e.Key, e.Message)
}

func (e *RecordError) Unwrap() error {
	return ErrRecordFailed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
