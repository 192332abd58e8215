package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Exit codes for CLI commands.
const (
	exitSuccess      = 0
	exitFailure      = 1
	exitCommandError = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code    int
	message string
	err     error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *exitError) Unwrap() error {
	return e.err
}

func commandError(message string, err error) *exitError {
	return &exitError{code: exitCommandError, message: message, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	return exitFailure
}

// textual is implemented by results that have a human-readable rendering.
type textual interface {
	writeText(w io.Writer) error
}

// formatter renders command results as text, JSON or YAML.
type formatter struct {
	format string
	w      io.Writer
}

func (f formatter) write(v any) error {
	switch f.format {
	case formatJSON:
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(f.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		if t, ok := v.(textual); ok {
			return t.writeText(f.w)
		}
		_, err := fmt.Fprintln(f.w, v)

		return err
	}
}
