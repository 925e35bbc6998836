// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package api is the HTTP surface of the session and synchronization
// layer.
//
// Session operations are exposed through a registered command table at
// /api/auth/{action}: each action name maps to a command with a typed,
// validated input and a typed output, and an unknown action is a
// terminal 404, never a fall-through. Policy conflicts from the session
// manager are returned as structured success payloads, not errors; the
// client branches on the conflict and may retry with force.
//
// The realtime gateway is reached through /ws, which upgrades to a
// websocket and hands the connection to the presence hub. /healthz and
// /metrics serve liveness and Prometheus scrapes.
package api
