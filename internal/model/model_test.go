// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{Role("system"), false},
		{Role(""), false},
		{Role("ASSISTANT"), false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := Message{Content: "line one\nline two\r\nline three"}
	got := msg.Preview(80)
	if strings.ContainsAny(got, "\n\r") {
		t.Errorf("Preview() = %q, should not contain newlines", got)
	}

	long := Message{Content: strings.Repeat("x", 100)}
	got = long.Preview(50)
	if len([]rune(got)) != 50 {
		t.Errorf("Preview() length = %d, want 50", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Preview() = %q, want ... suffix", got)
	}

	// Rune-based truncation must not split multi-byte characters.
	unicode := Message{Content: strings.Repeat("대", 60)}
	got = unicode.Preview(50)
	if len([]rune(got)) != 50 {
		t.Errorf("Preview() rune length = %d, want 50", len([]rune(got)))
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name       string
		components []ComponentStatus
		want       string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []ComponentStatus{
			{Name: "database", Status: StatusHealthy},
			{Name: "assistant", Status: StatusHealthy},
		}, StatusHealthy},
		{"one degraded", []ComponentStatus{
			{Name: "database", Status: StatusHealthy},
			{Name: "assistant", Status: StatusDegraded},
		}, StatusDegraded},
		{"database unhealthy takes the service down", []ComponentStatus{
			{Name: "database", Status: StatusUnhealthy},
			{Name: "assistant", Status: StatusDegraded},
		}, StatusUnhealthy},
		{"unhealthy assistant only degrades", []ComponentStatus{
			{Name: "database", Status: StatusHealthy},
			{Name: "assistant", Status: StatusUnhealthy},
		}, StatusDegraded},
		{"database degraded does not take the service down", []ComponentStatus{
			{Name: "database", Status: StatusDegraded},
			{Name: "assistant", Status: StatusHealthy},
		}, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverallStatus(tt.components); got != tt.want {
				t.Errorf("OverallStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateMessageRequest(t *testing.T) {
	if details := ValidateMessageRequest(MessageRequest{Content: "show cpu usage"}); details != nil {
		t.Errorf("valid request returned details: %v", details)
	}

	details := ValidateMessageRequest(MessageRequest{Content: "   "})
	if len(details) != 1 {
		t.Fatalf("blank content: got %d details, want 1", len(details))
	}
	if details[0].Field != "content" {
		t.Errorf("detail field = %q, want content", details[0].Field)
	}

	details = ValidateMessageRequest(MessageRequest{Content: strings.Repeat("a", MaxContentLength+1)})
	if len(details) != 1 {
		t.Errorf("oversized content: got %d details, want 1", len(details))
	}
}

func TestValidateSessionCreateRequest(t *testing.T) {
	if details := ValidateSessionCreateRequest(SessionCreateRequest{Title: "Metrics review"}); details != nil {
		t.Errorf("valid title returned details: %v", details)
	}
	if details := ValidateSessionCreateRequest(SessionCreateRequest{}); details != nil {
		t.Errorf("empty title should be allowed, got %v", details)
	}
	details := ValidateSessionCreateRequest(SessionCreateRequest{Title: strings.Repeat("t", MaxTitleLength+1)})
	if len(details) != 1 {
		t.Errorf("oversized title: got %d details, want 1", len(details))
	}
}
