// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package auth

import "strings"

// DeviceContext describes the requesting client. It is constructed once
// at the transport boundary and passed by value through the call chain;
// nothing deeper in the stack mutates it or reads ambient request state.
type DeviceContext struct {
	IP        string
	UserAgent string
	IsMobile  bool
}

// mobile user-agent markers, checked case-insensitively.
var mobileMarkers = []string{"mobile", "android", "iphone", "ipad", "ipod"}

// NewDeviceContext builds a DeviceContext from raw transport values,
// deriving the mobile flag from the user agent.
func NewDeviceContext(ip, userAgent string) DeviceContext {
	ua := strings.ToLower(userAgent)
	mobile := false
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			mobile = true
			break
		}
	}

	return DeviceContext{
		IP:        ip,
		UserAgent: userAgent,
		IsMobile:  mobile,
	}
}
