// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

/*
Package main is the entry point for the Classhub session and sync server.

The server owns sessions (rotating access/refresh pairs), realtime
presence fan-out over WebSocket, and the durable per-tenant sync job
queue that keeps satellite deployments converged with the hub.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("classhub")
	├── DataSupervisor ("data-layer")
	│   ├── credential sweeper (expired-session reaper)
	│   ├── job sweeper (completed-job purge)
	│   └── registry sweeper (tenant cache refresh)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── NATS broker (optional embedded server)
	│   ├── Presence hub (WebSocket fan-out)
	│   └── Sync job runner (trigger + poll drain)
	└── APISupervisor ("api-layer")
	    └── HTTP server (command table, /ws, /metrics)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, YAML file and env vars
 2. Logging: zerolog via the internal logging package
 3. Stores: Badger or in-memory credential and job stores
 4. Messaging: embedded NATS, trigger channel, presence backplane
 5. Domain: token manager, presence hub, dispatcher, session manager,
    job runner
 6. HTTP surface: command table, chi router, http.Server
 7. Supervisor tree: all long-running services, then signal handling

Shutdown is signal-driven. SIGINT or SIGTERM cancels the root context;
the tree stops leaves before supervisors and the HTTP server drains
in-flight requests before the broker goes away.
*/
package main
