// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation orchestrates chat turns: it persists messages,
// assembles context windows, and invokes the inference service.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsline/infrachat/internal/llm"
	"github.com/opsline/infrachat/internal/model"
	"github.com/opsline/infrachat/internal/storage"
)

// DefaultHistoryWindow is the number of prior messages sent to the
// assistant as conversation context.
const DefaultHistoryWindow = 20

// titlePreviewLength bounds derived session titles.
const titlePreviewLength = 50

// ErrSessionNotFound indicates the referenced session does not exist.
var ErrSessionNotFound = storage.ErrSessionNotFound

// ErrAssistantUnavailable indicates the inference service could not
// produce a reply.
var ErrAssistantUnavailable = errors.New("assistant unavailable")

// Assistant is the inference dependency of the service.
type Assistant interface {
	Chat(ctx context.Context, messages []llm.ChatMessage) (*llm.ChatResponse, error)
	IsConfigured() bool
	Ping(ctx context.Context) error
}

// ToolHealth reports the health of the assistant's tool gateways, one
// component per gateway.
type ToolHealth interface {
	Statuses(ctx context.Context) []model.ComponentStatus
}

// Service coordinates session storage and the assistant.
type Service struct {
	store         *storage.Store
	assistant     Assistant
	toolHealth    ToolHealth
	logger        *slog.Logger
	historyWindow int
}

// NewService creates a conversation service.
func NewService(store *storage.Store, assistant Assistant) *Service {
	return &Service{
		store:         store,
		assistant:     assistant,
		logger:        slog.Default(),
		historyWindow: DefaultHistoryWindow,
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithHistoryWindow sets how many prior messages are sent as context.
func (s *Service) WithHistoryWindow(n int) *Service {
	if n > 0 {
		s.historyWindow = n
	}
	return s
}

// WithToolHealth attaches tool gateway health reporting.
func (s *Service) WithToolHealth(th ToolHealth) *Service {
	s.toolHealth = th
	return s
}

// CreateSession creates a new session with an optional title.
func (s *Service) CreateSession(ctx context.Context, title string) (*model.Session, error) {
	session, err := s.store.CreateSession(ctx, "", title)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created", "session_id", session.ID, "title", session.Title)
	return session, nil
}

// GetSession loads a single session.
func (s *Service) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns all sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.store.ListSessions(ctx)
}

// GetHistory returns the full message history of a session in
// chronological order.
func (s *Service) GetHistory(ctx context.Context, sessionID string) ([]model.Message, error) {
	return s.store.GetMessages(ctx, sessionID)
}

// SendMessage runs one chat turn: it stores the user message, sends the
// recent window to the assistant, stores the reply, and returns it.
//
// The user message is persisted before the assistant is invoked, so a
// failed inference call never loses operator input. A session whose
// title is still the default is renamed after its first user message.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.SaveMessage(ctx, model.Message{
		SessionID: sessionID,
		Content:   content,
		Role:      model.RoleUser,
	})
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	if session.Title == model.DefaultSessionTitle {
		title := userMsg.Preview(titlePreviewLength)
		if title != "" {
			if err := s.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
				s.logger.Warn("failed to derive session title", "session_id", sessionID, "error", err)
			}
		}
	}

	window, err := s.store.RecentMessages(ctx, sessionID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load context window: %w", err)
	}

	start := time.Now()
	resp, err := s.assistant.Chat(ctx, toChatMessages(window))
	if err != nil {
		s.logger.Error("inference failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	reply := resp.GetContent()
	if reply == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrAssistantUnavailable)
	}

	assistantMsg, err := s.store.SaveMessage(ctx, model.Message{
		SessionID: sessionID,
		Content:   reply,
		Role:      model.RoleAssistant,
	})
	if err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	s.logger.Info("chat turn completed",
		"session_id", sessionID,
		"window", len(window),
		"duration", time.Since(start))
	return assistantMsg, nil
}

// CheckAssistant reports the health of the inference dependency.
func (s *Service) CheckAssistant(ctx context.Context) model.ComponentStatus {
	if !s.assistant.IsConfigured() {
		return model.ComponentStatus{
			Name:    "assistant",
			Status:  model.StatusDegraded,
			Message: "not configured",
		}
	}
	if err := s.assistant.Ping(ctx); err != nil {
		return model.ComponentStatus{
			Name:    "assistant",
			Status:  model.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return model.ComponentStatus{Name: "assistant", Status: model.StatusHealthy}
}

// CheckStorage reports the health of the database dependency.
func (s *Service) CheckStorage(ctx context.Context) model.ComponentStatus {
	if err := s.store.Ping(ctx); err != nil {
		return model.ComponentStatus{
			Name:    model.DatabaseComponent,
			Status:  model.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return model.ComponentStatus{Name: model.DatabaseComponent, Status: model.StatusHealthy}
}

// CheckToolSources reports the health of the assistant's tool gateways.
// Without a tool layer it reports nothing.
func (s *Service) CheckToolSources(ctx context.Context) []model.ComponentStatus {
	if s.toolHealth == nil {
		return nil
	}
	return s.toolHealth.Statuses(ctx)
}

// toChatMessages converts stored messages to the inference wire format.
func toChatMessages(messages []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, llm.ChatMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return out
}
