package handler

import (
	"context"
	"net/http"

	"github.com/tracyai/tracy/internal/assistant"
	"github.com/tracyai/tracy/internal/validation"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Reply(ctx context.Context, userID string, history []assistant.Message) (string, error)
}

// ChatHandler はAIチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

type chatRequest struct {
	Messages []assistant.Message `json:"messages" validate:"required,min=1,max=100,dive"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Chat は会話履歴を受け取り、アシスタントの応答を返す。
// POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	reply, err := h.service.Reply(r.Context(), userID, req.Messages)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}
