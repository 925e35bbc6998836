// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/auth"
)

// Command is one registered auth action. Actions are dispatched by name
// through the table, never by branching on the raw path segment, and a
// name with no registration is a terminal unknown-action case.
type Command struct {
	// Name is the action path segment, e.g. "login".
	Name string

	// Method is the only HTTP method the command accepts.
	Method string

	// Public commands run without a verified access credential.
	Public bool

	// Handle executes the command. Returned errors are translated
	// through the shared error taxonomy; everything else is wrapped in
	// the success envelope as-is.
	Handle func(ctx context.Context, req *CommandRequest) (interface{}, error)
}

// CommandRequest is the validated context a command executes in.
type CommandRequest struct {
	// Claims is the verified caller. Nil for public commands.
	Claims *auth.AccessClaims

	// Device describes the requesting client, built once at the
	// transport boundary.
	Device auth.DeviceContext

	// Body is the raw request body. Commands decode it through
	// decodeInput for validation.
	Body []byte
}

// CommandTable maps action names to their registrations.
type CommandTable map[string]*Command

// register adds a command, panicking on duplicate names. Called only
// during construction.
func (t CommandTable) register(cmd *Command) {
	if _, exists := t[cmd.Name]; exists {
		panic(fmt.Sprintf("duplicate command registration: %s", cmd.Name))
	}
	t[cmd.Name] = cmd
}

// inputValidate checks decoded command inputs against their struct tags.
var inputValidate = validator.New()

// inputError marks a malformed or invalid command input so the
// dispatcher can answer 400 instead of 500.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

// decodeInput unmarshals a command body into dst and validates it.
// An empty body decodes the zero value, letting optional-only inputs
// omit the body entirely.
func decodeInput(body []byte, dst interface{}) error {
	if len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return &inputError{err: fmt.Errorf("malformed request body: %w", err)}
		}
	}
	if err := inputValidate.Struct(dst); err != nil {
		return &inputError{err: err}
	}
	return nil
}

// writeCommandError maps the session layer's error taxonomy onto HTTP.
// Credential validity failures are 401, denied impersonations 403, bad
// inputs 400, and store trouble an opaque 500.
func writeCommandError(rw *ResponseWriter, err error) {
	var ie *inputError
	switch {
	case errors.As(err, &ie):
		rw.Fail(http.StatusBadRequest, ErrCodeValidationFailed, ie.Error())
	case errors.Is(err, auth.ErrRenewalRace):
		rw.Fail(http.StatusUnauthorized, ErrCodeRenewalRace, err.Error())
	case errors.Is(err, auth.ErrInvalidCredential):
		rw.Unauthorized("invalid credential")
	case errors.Is(err, auth.ErrImpersonationDenied),
		errors.Is(err, auth.ErrNotImpersonating):
		rw.Forbidden(err.Error())
	default:
		rw.InternalError("request failed")
	}
}
