package types

import (
	"errors"
	"fmt"
)

// ConfigError reports malformed or missing invocation parameters.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", msg, e.Err)
	}
	return "config error: " + msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConnectionError is one failed dial. The retry loop absorbs it.
type ConnectionError struct {
	Host    string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed (attempt %d): %v", e.Host, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChainExhaustedError describes an abandoned chain. It is an outcome, not a
// failure, and never changes the exit code.
type ChainExhaustedError struct {
	Index     int
	Remaining int
	Last      error
}

func (e *ChainExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("chain exhausted at index %d (budget left %d): %v", e.Index, e.Remaining, e.Last)
	}
	return fmt.Sprintf("chain exhausted at index %d (budget left %d)", e.Index, e.Remaining)
}

func (e *ChainExhaustedError) Unwrap() error {
	return e.Last
}

// ReceptionError reports that the node could not bind or accept its inbound
// stream.
type ReceptionError struct {
	Port int
	Err  error
}

func (e *ReceptionError) Error() string {
	return fmt.Sprintf("reception on port %d failed: %v", e.Port, e.Err)
}

func (e *ReceptionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must end the process with a non-zero exit.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigError
	var recvErr *ReceptionError
	return errors.As(err, &cfgErr) || errors.As(err, &recvErr)
}
