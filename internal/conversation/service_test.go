// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/infrachat/internal/llm"
	"github.com/opsline/infrachat/internal/model"
	"github.com/opsline/infrachat/internal/storage"
)

// fakeAssistant records the messages it receives and returns a canned
// reply or error.
type fakeAssistant struct {
	reply      string
	err        error
	pingErr    error
	configured bool
	gotWindow  []llm.ChatMessage
	calls      int
}

func (f *fakeAssistant) Chat(ctx context.Context, messages []llm.ChatMessage) (*llm.ChatResponse, error) {
	f.calls++
	f.gotWindow = messages
	if f.err != nil {
		return nil, f.err
	}
	var resp llm.ChatResponse
	resp.Choices = []struct {
		Message      llm.ChatMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}{
		{Message: llm.NewAssistantMessage(f.reply), FinishReason: "stop"},
	}
	return &resp, nil
}

func (f *fakeAssistant) IsConfigured() bool { return f.configured }

func (f *fakeAssistant) Ping(ctx context.Context) error { return f.pingErr }

func newTestService(t *testing.T, assistant *fakeAssistant) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, assistant), store
}

func TestSendMessagePersistsBothSides(t *testing.T) {
	assistant := &fakeAssistant{reply: "Disk usage on node-3 is at 91%.", configured: true}
	svc, _ := newTestService(t, assistant)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "disk alerts")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, session.ID, "why is node-3 alerting?")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "Disk usage on node-3 is at 91%.", reply.Content)

	history, err := svc.GetHistory(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "why is node-3 alerting?", history[0].Content)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestSendMessageUnknownSession(t *testing.T) {
	assistant := &fakeAssistant{reply: "ok", configured: true}
	svc, _ := newTestService(t, assistant)

	_, err := svc.SendMessage(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, assistant.calls, "assistant must not be invoked for unknown sessions")
}

func TestSendMessageKeepsUserMessageOnInferenceFailure(t *testing.T) {
	assistant := &fakeAssistant{err: errors.New("connection refused"), configured: true}
	svc, _ := newTestService(t, assistant)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, session.ID, "is the cluster up?")
	assert.ErrorIs(t, err, ErrAssistantUnavailable)

	history, err := svc.GetHistory(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "user message must survive a failed inference call")
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestSendMessageDerivesTitleFromFirstMessage(t *testing.T) {
	assistant := &fakeAssistant{reply: "Looking into it.", configured: true}
	svc, _ := newTestService(t, assistant)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	require.NoError(t, err)
	require.Equal(t, model.DefaultSessionTitle, session.Title)

	_, err = svc.SendMessage(ctx, session.ID, "what is the p99 latency of the ingest service?")
	require.NoError(t, err)

	updated, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "what is the p99 latency of the ingest service?", updated.Title)
}

func TestSendMessageDoesNotOverwriteExplicitTitle(t *testing.T) {
	assistant := &fakeAssistant{reply: "ok", configured: true}
	svc, _ := newTestService(t, assistant)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "latency investigation")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, session.ID, "show me the graphs")
	require.NoError(t, err)

	updated, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "latency investigation", updated.Title)
}

func TestSendMessageWindowsHistory(t *testing.T) {
	assistant := &fakeAssistant{reply: "noted", configured: true}
	svc, _ := newTestService(t, assistant)
	svc.WithHistoryWindow(4)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "long chat")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.SendMessage(ctx, session.ID, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	assert.Len(t, assistant.gotWindow, 4)
	// The newest user message must always be inside the window.
	last := assistant.gotWindow[len(assistant.gotWindow)-1]
	assert.Equal(t, "user", last.Role)
	assert.True(t, strings.HasSuffix(last.Content, "question 4"), "got %q", last.Content)
}

func TestCheckAssistantStates(t *testing.T) {
	tests := []struct {
		name       string
		assistant  *fakeAssistant
		wantStatus string
	}{
		{"healthy", &fakeAssistant{configured: true}, model.StatusHealthy},
		{"not configured", &fakeAssistant{configured: false}, model.StatusDegraded},
		{"unreachable", &fakeAssistant{configured: true, pingErr: errors.New("dial timeout")}, model.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.assistant)
			status := svc.CheckAssistant(context.Background())
			assert.Equal(t, "assistant", status.Name)
			assert.Equal(t, tt.wantStatus, status.Status)
		})
	}
}

func TestCheckStorageHealthy(t *testing.T) {
	svc, _ := newTestService(t, &fakeAssistant{configured: true})

	status := svc.CheckStorage(context.Background())
	assert.Equal(t, "database", status.Name)
	assert.Equal(t, model.StatusHealthy, status.Status)
}
