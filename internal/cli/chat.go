// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/opsline/infrachat/internal/api"
	"github.com/opsline/infrachat/internal/config"
	"github.com/opsline/infrachat/internal/model"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer renders assistant replies for terminal display.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(DefaultTerminalWidth),
	)
	if err != nil {
		// Fall back to plain text if renderer initialization fails.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown for terminal display, returning the
// original content if rendering fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayReply prints an assistant reply, rendering markdown only when
// stdout is a terminal.
func displayReply(content string) {
	if IsStdoutTTY() {
		fmt.Print(renderMarkdown(content))
	} else {
		fmt.Println(content)
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI wraps liner with persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history stored under the user config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "infrachat", "chat_history"),
	}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and releases the terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession holds the state of an interactive chat.
type ChatSession struct {
	Client    *api.Client
	SessionID string
	Input     *ChatCLI
	StartTime time.Time
	Turns     int
}

// HandleChat runs the interactive chat REPL against the backend.
func HandleChat(cfg *config.Config) error {
	client := api.NewClient(cfg.Client.BaseURL).
		WithMaxRetries(cfg.Client.MaxRetries).
		WithBaseDelay(cfg.Client.BaseDelay()).
		WithTimeout(cfg.Client.Timeout())

	ctx := context.Background()
	if _, err := client.Health(ctx); err != nil {
		return fmt.Errorf("backend unreachable at %s: %w", cfg.Client.BaseURL, err)
	}

	session := &ChatSession{
		Client:    client,
		Input:     NewChatCLI(),
		StartTime: time.Now(),
	}
	defer session.Input.Close()

	created, err := client.CreateSession(ctx, "")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	session.SessionID = created.ID

	printWelcome(session)

	// First Ctrl+C aborts the prompt via liner; SIGTERM exits cleanly.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		<-sigChan
		session.Input.Close()
		os.Exit(0)
	}()

	for {
		input, err := session.Input.ReadInput(promptStyle.Render("infrachat> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
				printExitSummary(session)
				return nil
			}
			// EOF (Ctrl+D) exits gracefully.
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := session.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(session)
			return nil
		}

		if err := session.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// sendMessage sends one chat turn and prints the reply.
func (s *ChatSession) sendMessage(ctx context.Context, input string) error {
	reply, err := s.Client.SendMessage(ctx, s.SessionID, input)
	if err != nil {
		return describeAPIError(err)
	}

	fmt.Println()
	displayReply(reply.Content)
	fmt.Println()
	s.Turns++
	return nil
}

// handleCommand dispatches a slash command. Returns false when the REPL
// should exit.
func (s *ChatSession) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/quit", "/exit", "/q":
		return false, nil

	case "/help", "/?":
		printHelp()
		return true, nil

	case "/new":
		title := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
		created, err := s.Client.CreateSession(ctx, title)
		if err != nil {
			return true, describeAPIError(err)
		}
		s.SessionID = created.ID
		fmt.Println(infoStyle.Render("Started session " + created.ID))
		return true, nil

	case "/sessions":
		list, err := s.Client.ListSessions(ctx)
		if err != nil {
			return true, describeAPIError(err)
		}
		if list.TotalCount == 0 {
			fmt.Println(infoStyle.Render("No sessions yet."))
			return true, nil
		}
		for _, sess := range list.Sessions {
			marker := "  "
			if sess.ID == s.SessionID {
				marker = commandStyle.Render("* ")
			}
			fmt.Printf("%s%s  %s  (last active %s)\n",
				marker, sess.ID, sess.Title, sess.LastMessageAt.Local().Format("2006-01-02 15:04"))
		}
		return true, nil

	case "/open":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /open <session-id>")
		}
		hist, err := s.Client.GetHistory(ctx, fields[1])
		if err != nil {
			return true, describeAPIError(err)
		}
		s.SessionID = fields[1]
		fmt.Println(infoStyle.Render(fmt.Sprintf("Switched to session %s (%d messages)", s.SessionID, hist.TotalCount)))
		return true, nil

	case "/history":
		hist, err := s.Client.GetHistory(ctx, s.SessionID)
		if err != nil {
			return true, describeAPIError(err)
		}
		for _, msg := range hist.Messages {
			label := "you"
			if msg.Role == model.RoleAssistant {
				label = "assistant"
			}
			fmt.Printf("%s %s\n", commandStyle.Render("["+label+"]"), msg.Preview(GetTerminalWidth()-12))
		}
		return true, nil

	case "/health":
		health, err := s.Client.Health(ctx)
		if err != nil {
			return true, describeAPIError(err)
		}
		fmt.Printf("%s %s (v%s)\n", commandStyle.Render("[status]"), health.Status, health.Version)
		for _, comp := range health.Components {
			fmt.Printf("  %-10s %s", comp.Name, comp.Status)
			if comp.Message != "" {
				fmt.Printf("  (%s)", comp.Message)
			}
			fmt.Println()
		}
		return true, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// describeAPIError turns client errors into operator-friendly messages.
func describeAPIError(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s (HTTP %d)", apiErr.Message, apiErr.StatusCode)
	}
	var timeoutErr *api.TimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Errorf("request timed out after %s; the backend may be overloaded", timeoutErr.Timeout)
	}
	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return fmt.Errorf("cannot reach the backend: %v", netErr.Cause)
	}
	return err
}

// =============================================================================
// OUTPUT
// =============================================================================

func printWelcome(s *ChatSession) {
	fmt.Println(welcomeStyle.Render("infrachat — infrastructure metrics assistant"))
	fmt.Println(infoStyle.Render("Ask about your metrics, or use /help for commands."))
	fmt.Println()
}

func printHelp() {
	help := [][2]string{
		{"/new [title]", "start a new session"},
		{"/sessions", "list sessions"},
		{"/open <id>", "switch to a session"},
		{"/history", "show the current session's messages"},
		{"/health", "show backend health"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Printf("  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-14s", h[0])), h[1])
	}
}

func printExitSummary(s *ChatSession) {
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d turns in %s. Session %s saved.",
		s.Turns, time.Since(s.StartTime).Round(time.Second), s.SessionID)))
}
