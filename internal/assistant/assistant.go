// Package assistant はユーザーのジャーナルとタスクを文脈として与えたAIチャットを提供する。
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/model"
)

const (
	// プロンプトに含める件数
	recentJournalLimit = 5
	openTaskLimit      = 10
	// MaxHistory はプロバイダーへ送る会話履歴の最大件数（新しい方から）。
	MaxHistory = 20

	providerOpenAI = "openai"
)

// Message はチャット履歴の1件。
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

// Completer はチャット補完APIのインターフェース。*openai.Clientが実装する。
type Completer interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// JournalReader はプロンプト用に最近のジャーナルを取得する。
type JournalReader interface {
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.JournalEntry, error)
}

// TaskReader はプロンプト用に未完了タスクを取得する。
type TaskReader interface {
	ListOpenByUserID(ctx context.Context, userID string, limit int) ([]model.Task, error)
}

// Config はAIプロバイダーの設定。
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient は設定からOpenAIクライアントを生成する。APIキーが無い場合はnilを返す。
func NewClient(cfg Config) Completer {
	if cfg.APIKey == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Service はチャットのビジネスロジックを提供する。
type Service struct {
	client   Completer
	journals JournalReader
	tasks    TaskReader
	model    string
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。clientがnilの場合、Replyはmodel.ErrAssistantNotConfiguredを返す。
func NewService(client Completer, modelName string, journals JournalReader, tasks TaskReader, collector metrics.MetricsCollector) *Service {
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	if collector == nil {
		collector = metrics.Nop()
	}
	return &Service{
		client:   client,
		journals: journals,
		tasks:    tasks,
		model:    modelName,
		metrics:  collector,
		now:      time.Now,
	}
}

// Reply は会話履歴にシステムプロンプトを付けてプロバイダーへ送り、応答テキストを返す。
// 呼び出しは1回のみで、失敗時は*model.UpstreamErrorを返す。
func (s *Service) Reply(ctx context.Context, userID string, history []Message) (string, error) {
	if s.client == nil {
		return "", model.ErrAssistantNotConfigured
	}
	if len(history) == 0 {
		return "", model.NewValidationError("messages must not be empty")
	}

	journals, err := s.journals.ListByUserID(ctx, userID, recentJournalLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load journal context: %w", err)
	}
	tasks, err := s.tasks.ListOpenByUserID(ctx, userID, openTaskLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load task context: %w", err)
	}

	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(journals, tasks, s.now()),
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
	})
	s.metrics.RecordProviderCall(providerOpenAI, "chat.completions", err, time.Since(start))
	if err != nil {
		slog.Error("chat completion failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamError(providerOpenAI, "chat.completions", err)
	}
	if len(resp.Choices) == 0 {
		return "", model.NewUpstreamError(providerOpenAI, "chat.completions", errors.New("no choices returned"))
	}

	return resp.Choices[0].Message.Content, nil
}

// BuildSystemPrompt はジャーナルの要約と未完了タスクを埋め込んだシステムプロンプトを組み立てる。
func BuildSystemPrompt(journals []model.JournalEntry, tasks []model.Task, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are Tracy, a friendly personal productivity assistant. ")
	b.WriteString("Help the user plan their day, reflect on their journal and stay on top of their tasks. ")
	b.WriteString("Be concise and practical.\n")
	fmt.Fprintf(&b, "Today is %s.\n", now.Format("Monday, January 2, 2006"))

	b.WriteString("\nRecent journal entries:\n")
	if len(journals) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, j := range journals {
		fmt.Fprintf(&b, "- %s: %s", j.CreatedAt.Format("2006-01-02"), j.Summary)
		if j.Score != nil {
			fmt.Fprintf(&b, " (mood %d/10)", *j.Score)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOpen tasks:\n")
	if len(tasks) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s", t.Title)
		if t.DueDate != nil {
			fmt.Fprintf(&b, " (due %s)", t.DueDate.Format("2006-01-02"))
		}
		if t.Score > 0 {
			fmt.Fprintf(&b, " [priority %d]", t.Score)
		}
		b.WriteString("\n")
	}

	return b.String()
}
