// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsline/infrachat/internal/model"
)

// DefaultFetchTimeout bounds one catalog collection across all sources.
const DefaultFetchTimeout = 30 * time.Second

// Manager aggregates tools across sources. A failing or unconfigured
// source never blocks the others; the assistant simply works with
// whatever catalogs are reachable.
type Manager struct {
	sources []Source
	logger  *slog.Logger
	timeout time.Duration
}

// NewManager creates a manager over the given sources.
func NewManager(sources ...Source) *Manager {
	return &Manager{
		sources: sources,
		logger:  slog.Default(),
		timeout: DefaultFetchTimeout,
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithTimeout sets the collection timeout.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	if timeout > 0 {
		m.timeout = timeout
	}
	return m
}

// All collects the tools of every configured source. Sources that fail
// are logged and skipped.
func (m *Manager) All(ctx context.Context) []Tool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var all []Tool
	for _, src := range m.sources {
		if !src.IsConfigured() {
			continue
		}
		ts, err := src.Tools(ctx)
		if err != nil {
			m.logger.Warn("tool source unavailable", "source", src.Name(), "error", err)
			continue
		}
		all = append(all, ts...)
	}
	return all
}

// Statuses reports one health component per source, named
// "tools_<source>". An unconfigured source is degraded rather than
// unhealthy so optional gateways do not alarm.
func (m *Manager) Statuses(ctx context.Context) []model.ComponentStatus {
	components := make([]model.ComponentStatus, 0, len(m.sources))
	for _, src := range m.sources {
		components = append(components, m.checkSource(ctx, src))
	}
	return components
}

func (m *Manager) checkSource(ctx context.Context, src Source) model.ComponentStatus {
	name := "tools_" + src.Name()
	if !src.IsConfigured() {
		return model.ComponentStatus{
			Name:    name,
			Status:  model.StatusDegraded,
			Message: "not configured",
		}
	}

	ts, err := src.Tools(ctx)
	if err != nil {
		return model.ComponentStatus{
			Name:    name,
			Status:  model.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return model.ComponentStatus{
		Name:    name,
		Status:  model.StatusHealthy,
		Message: fmt.Sprintf("%d tools available", len(ts)),
	}
}
