package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks across layers.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrValidation     = errors.New("validation error")
)

// ConfigurationError reports malformed weights, a missing threshold or an
// unusable artifact. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ModelNotLoadedError reports a prediction attempted before models or
// config were ready. Callers surface it as service unavailable.
type ModelNotLoadedError struct {
	Component string
	Err       error
}

func (e *ModelNotLoadedError) Error() string {
	msg := "model not loaded"
	if e.Component != "" {
		msg += ": " + e.Component
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelNotLoadedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrModelNotLoaded, e.Err}
	}
	return []error{ErrModelNotLoaded}
}

// ValidationError reports client input that cannot be scored. Missing
// features are never defaulted.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsModelNotLoaded reports whether err is a ModelNotLoadedError.
func IsModelNotLoaded(err error) bool { return errors.Is(err, ErrModelNotLoaded) }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
