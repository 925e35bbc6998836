// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter implements watermill.LoggerAdapter on top of the
// global zerolog logger so pub/sub internals log through the same sink.
type WatermillAdapter struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

// NewWatermillAdapter creates an adapter over the global logger.
func NewWatermillAdapter() *WatermillAdapter {
	return &WatermillAdapter{logger: Logger()}
}

// Error logs an error-level message.
func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.logger.Error().Err(err), fields).Msg(msg)
}

// Info logs an info-level message.
func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.logger.Info(), fields).Msg(msg)
}

// Debug logs a debug-level message.
func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.logger.Debug(), fields).Msg(msg)
}

// Trace logs a trace-level message.
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.logger.Trace(), fields).Msg(msg)
}

// With returns an adapter that attaches fields to every message.
func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &WatermillAdapter{logger: a.logger, fields: merged}
}

func (a *WatermillAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range a.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
