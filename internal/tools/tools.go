// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools aggregates assistant tool catalogs from in-network
// gateways such as Grafana and CloudWatch. Each gateway is a Source;
// the Manager collects their tools for the inference request and
// reports per-source health.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opsline/infrachat/internal/api"
)

// ErrNotConfigured indicates a source has no endpoint configured.
var ErrNotConfigured = errors.New("tool source not configured")

// Tool is one callable tool advertised by a source. Parameters is the
// JSON schema of the tool's arguments, passed through verbatim.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Source      string          `json:"-"`
}

// Source is one gateway exposing a tool catalog.
type Source interface {
	// Name identifies the source in logs and health components.
	Name() string

	// IsConfigured reports whether the source has an endpoint.
	IsConfigured() bool

	// Tools fetches the source's current catalog.
	Tools(ctx context.Context) ([]Tool, error)
}

// =============================================================================
// HTTP SOURCE
// =============================================================================

// HTTPSource fetches a tool catalog over HTTP. The gateway answers
// GET /tools with {"tools": [...]}. Requests go through the retrying
// API client, so transient gateway failures are absorbed.
type HTTPSource struct {
	name   string
	client *api.Client
}

// NewHTTPSource creates a source named name for the gateway at baseURL.
// An empty baseURL yields an unconfigured source whose Tools calls fail
// with ErrNotConfigured. A non-empty apiKey is sent as a bearer token.
func NewHTTPSource(name, baseURL, apiKey string) *HTTPSource {
	s := &HTTPSource{name: name}
	if baseURL != "" {
		s.client = api.NewClient(baseURL)
		if apiKey != "" {
			s.client = s.client.WithHeader("Authorization", "Bearer "+apiKey)
		}
	}
	return s
}

// WithClient replaces the underlying API client, marking the source
// configured. Used to tune retries and timeouts.
func (s *HTTPSource) WithClient(client *api.Client) *HTTPSource {
	s.client = client
	return s
}

// Name identifies the source.
func (s *HTTPSource) Name() string { return s.name }

// IsConfigured reports whether the source has an endpoint.
func (s *HTTPSource) IsConfigured() bool { return s.client != nil }

// Tools fetches the gateway's catalog and stamps each tool with the
// source name.
func (s *HTTPSource) Tools(ctx context.Context) ([]Tool, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	resp, err := s.client.Execute(ctx, api.Request{Method: http.MethodGet, Path: "/tools"})
	if err != nil {
		return nil, fmt.Errorf("fetch %s tools: %w", s.name, err)
	}

	var catalog struct {
		Tools []Tool `json:"tools"`
	}
	resp.Decode(&catalog)

	for i := range catalog.Tools {
		catalog.Tools[i].Source = s.name
	}
	return catalog.Tools, nil
}
