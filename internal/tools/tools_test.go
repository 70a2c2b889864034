// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsline/infrachat/internal/api"
	"github.com/opsline/infrachat/internal/model"
)

// catalogServer serves a fixed tool catalog at /tools.
func catalogServer(t *testing.T, names ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tools":[`)
		for i, name := range names {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"name":%q,"description":"d"}`, name)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPSource_FetchesCatalog(t *testing.T) {
	server := catalogServer(t, "query_dashboards", "list_alerts")
	src := NewHTTPSource("grafana", server.URL, "secret")

	ts, err := src.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(ts) != 2 {
		t.Fatalf("tools = %d, want 2", len(ts))
	}
	if ts[0].Name != "query_dashboards" || ts[0].Source != "grafana" {
		t.Errorf("tool = %+v, want name query_dashboards from grafana", ts[0])
	}
}

func TestHTTPSource_SendsBearerToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tools":[]}`)
	}))
	defer server.Close()

	src := NewHTTPSource("cloudwatch", server.URL, "aws-key")
	if _, err := src.Tools(context.Background()); err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if auth != "Bearer aws-key" {
		t.Errorf("Authorization = %q, want Bearer aws-key", auth)
	}
}

func TestHTTPSource_Unconfigured(t *testing.T) {
	src := NewHTTPSource("grafana", "", "")
	if src.IsConfigured() {
		t.Error("IsConfigured() = true, want false")
	}
	if _, err := src.Tools(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Tools() error = %v, want ErrNotConfigured", err)
	}
}

// fakeSource is a scripted source for manager tests.
type fakeSource struct {
	name       string
	configured bool
	tools      []Tool
	err        error
}

func (f *fakeSource) Name() string       { return f.name }
func (f *fakeSource) IsConfigured() bool { return f.configured }
func (f *fakeSource) Tools(ctx context.Context) ([]Tool, error) {
	return f.tools, f.err
}

func TestManager_AllSkipsFailingSources(t *testing.T) {
	m := NewManager(
		&fakeSource{name: "grafana", configured: true, tools: []Tool{{Name: "a"}, {Name: "b"}}},
		&fakeSource{name: "cloudwatch", configured: true, err: errors.New("gateway down")},
		&fakeSource{name: "unset", configured: false},
	).WithLogger(slog.New(slog.DiscardHandler))

	all := m.All(context.Background())
	if len(all) != 2 {
		t.Errorf("All() = %d tools, want 2 from the healthy source", len(all))
	}
}

func TestManager_Statuses(t *testing.T) {
	m := NewManager(
		&fakeSource{name: "grafana", configured: true, tools: []Tool{{Name: "a"}}},
		&fakeSource{name: "cloudwatch", configured: false},
		&fakeSource{name: "broken", configured: true, err: errors.New("gateway down")},
	)

	statuses := m.Statuses(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("statuses = %d, want 3", len(statuses))
	}

	byName := make(map[string]model.ComponentStatus, len(statuses))
	for _, s := range statuses {
		byName[s.Name] = s
	}
	if got := byName["tools_grafana"]; got.Status != model.StatusHealthy || got.Message != "1 tools available" {
		t.Errorf("tools_grafana = %+v", got)
	}
	if got := byName["tools_cloudwatch"]; got.Status != model.StatusDegraded {
		t.Errorf("tools_cloudwatch = %+v, want degraded", got)
	}
	if got := byName["tools_broken"]; got.Status != model.StatusUnhealthy {
		t.Errorf("tools_broken = %+v, want unhealthy", got)
	}
}

func TestHTTPSource_RetriesTransientFailures(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		if count == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tools":[{"name":"a"}]}`)
	}))
	defer server.Close()

	src := NewHTTPSource("grafana", "", "").WithClient(
		api.NewClient(server.URL).
			WithMaxRetries(2).
			WithBaseDelay(time.Millisecond).
			WithLogger(slog.New(slog.DiscardHandler)))

	ts, err := src.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(ts) != 1 || count != 2 {
		t.Errorf("tools = %d after %d attempts, want 1 after 2", len(ts), count)
	}
}
