// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package jobrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/models"
)

// syncEndpoint is appended to the tenant's satellite base URL.
const syncEndpoint = "/api/sync/apply"

// deliveryRequest is the wire body POSTed to a satellite.
type deliveryRequest struct {
	JobID     string                `json:"job_id"`
	Attempt   int                   `json:"attempt"`
	CreatedAt time.Time             `json:"created_at"`
	Notify    *models.NotifyPayload `json:"notify,omitempty"`
	Sync      *models.SyncPayload   `json:"sync,omitempty"`
}

// SatelliteClient delivers sync jobs to satellite processes over HTTP.
// The tenant's shared secret authenticates the hub as a bearer token.
type SatelliteClient struct {
	httpClient *http.Client
}

// NewSatelliteClient creates a client with the given request timeout.
func NewSatelliteClient(timeout time.Duration) *SatelliteClient {
	return &SatelliteClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Deliver POSTs one job to the tenant's satellite. Any non-2xx response
// is a delivery failure; the body is read for the error message only.
func (c *SatelliteClient) Deliver(ctx context.Context, tenant *models.Tenant, job *models.SyncJob) error {
	body, err := json.Marshal(deliveryRequest{
		JobID:     job.ID,
		Attempt:   job.Attempt,
		CreatedAt: job.CreatedAt,
		Notify:    job.Notify,
		Sync:      job.Sync,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}

	url := strings.TrimRight(tenant.SatelliteURL, "/") + syncEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tenant.SharedSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver job %s: %w", job.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("satellite rejected job %s: status %d: %s", job.ID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
