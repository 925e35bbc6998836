// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

// Package services adapts the long-running Classhub components to
// suture.Service. Each wrapper takes a narrow interface rather than the
// concrete component, keeping this package free of dependency cycles
// and the wrappers trivially testable.
package services
