package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Summarization LLM settings: low temperature for consistency, bounded
// output, never any tools.
const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 1000
	summaryPrefix      = "[AUTOMATIC SUMMARY] "
)

// HistorySummarizer compresses long session histories into a single
// assistant-visible summary message, preserving the most recent user
// message. Compression is fully isolated: any failure leaves the session
// untouched and traces a summarization_error, and the caller continues.
type HistorySummarizer struct {
	sessions  SessionManager
	providers ProviderResolver
	logger    *slog.Logger
}

// SummarizerOption configures a HistorySummarizer.
type SummarizerOption func(*HistorySummarizer)

// SummarizerLogger sets the structured logger for summarization events.
func SummarizerLogger(l *slog.Logger) SummarizerOption {
	return func(s *HistorySummarizer) { s.logger = l }
}

// NewHistorySummarizer creates a summarizer persisting through sessions
// and resolving the summarization LLM through providers.
func NewHistorySummarizer(sessions SessionManager, providers ProviderResolver, opts ...SummarizerOption) *HistorySummarizer {
	s := &HistorySummarizer{sessions: sessions, providers: providers}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// SummarizeIfNeeded compresses the session's history when it opted in and
// crossed a threshold. On success the history becomes [summary, last user
// message] (or [summary] when no user message exists), the session is
// persisted, and the function reports true.
func (s *HistorySummarizer) SummarizeIfNeeded(ctx context.Context, session *Session, tracer *Tracer) bool {
	if !session.HistoryConfig.Enabled {
		s.logger.Debug("summarization disabled", "session_id", session.ID)
		return false
	}
	if !session.ShouldSummarize() {
		s.logger.Debug("summarization thresholds not reached", "session_id", session.ID)
		return false
	}

	originalMessages := session.Messages()
	tracer.LogSummarizationTrigger(ctx, triggerReason(session), session.Metrics())
	s.logger.Info("summarization triggered",
		"session_id", session.ID,
		"messages", originalMessages)

	summary, err := s.createSummary(ctx, session)
	if err != nil {
		s.traceFailure(ctx, session, tracer, err)
		return false
	}

	newHistory := []ChatMessage{summary}
	if last, ok := lastUserMessage(session.History); ok {
		newHistory = append(newHistory, last)
	}

	oldHistory := session.History
	session.History = newHistory
	if err := s.sessions.Save(ctx, session); err != nil {
		session.History = oldHistory
		s.traceFailure(ctx, session, tracer, fmt.Errorf("persist summarized session: %w", err))
		return false
	}

	tracer.LogSummarizationComplete(ctx, len(summary.Content), originalMessages)
	s.logger.Info("history compressed",
		"session_id", session.ID,
		"from_messages", originalMessages,
		"to_messages", len(newHistory))
	return true
}

func (s *HistorySummarizer) traceFailure(ctx context.Context, session *Session, tracer *Tracer, err error) {
	s.logger.Error("summarization failed", "session_id", session.ID, "error", err)
	tracer.LogStep(ctx, ComponentSummarizer, "summarization_error", map[string]any{
		"error_type":    errorType(err),
		"error_message": err.Error(),
	})
}

// createSummary calls the summarization LLM over the rendered history and
// builds the prefixed assistant message. Empty model output is an error.
func (s *HistorySummarizer) createSummary(ctx context.Context, session *Session) (ChatMessage, error) {
	provider, err := s.providers.Resolve(session.HistoryConfig.Provider)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("resolve summarization provider: %w", err)
	}

	systemPrompt := session.HistoryConfig.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultHistoryConfig().SystemPrompt
	}

	req := ChatRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: "Here is the conversation history to summarize:\n\n" +
				renderHistory(session.History) +
				"\n\nProduce a concise summary that preserves the essential context for the rest of the conversation."},
		},
		Model:       session.HistoryConfig.ModelVersion,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("summarization call: %w", err)
	}
	if resp.Content == "" {
		return ChatMessage{}, &ErrLLM{Provider: provider.Name(), Message: "summarization model returned no content"}
	}
	return NewMessage(RoleAssistant, summaryPrefix+resp.Content)
}

// renderHistory formats a history as a numbered, role-prefixed plaintext
// block for the summarization prompt.
func renderHistory(history []ChatMessage) string {
	if len(history) == 0 {
		return "No history available."
	}
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		content := m.Content
		if content == "" {
			content = "[empty content]"
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, strings.ToUpper(m.Role), content)
	}
	return b.String()
}

// lastUserMessage scans backwards for the most recent user message.
func lastUserMessage(history []ChatMessage) (ChatMessage, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i], true
		}
	}
	return ChatMessage{}, false
}

// triggerReason names every threshold the history crossed.
func triggerReason(s *Session) string {
	c := s.HistoryConfig
	var reasons []string
	if s.Messages() >= c.MessageThreshold {
		reasons = append(reasons, fmt.Sprintf("messages %d >= %d", s.Messages(), c.MessageThreshold))
	}
	if s.Chars() >= c.CharThreshold {
		reasons = append(reasons, fmt.Sprintf("chars %d >= %d", s.Chars(), c.CharThreshold))
	}
	if s.Words() >= c.WordThreshold {
		reasons = append(reasons, fmt.Sprintf("words %d >= %d", s.Words(), c.WordThreshold))
	}
	if s.Tokens() >= c.TokenThreshold {
		reasons = append(reasons, fmt.Sprintf("tokens %d >= %d", s.Tokens(), c.TokenThreshold))
	}
	return strings.Join(reasons, ", ")
}
