package handler

import (
	"context"
	"net/http"

	"github.com/tracyai/tracy/internal/journal"
	"github.com/tracyai/tracy/internal/model"
)

// JournalServiceInterface はジャーナルハンドラーが必要とするサービスインターフェース。
type JournalServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.JournalEntry, error)
	Create(ctx context.Context, userID string, in journal.CreateInput) (*model.JournalEntry, error)
}

// JournalHandler はジャーナルのHTTPハンドラー。
type JournalHandler struct {
	service JournalServiceInterface
}

// NewJournalHandler はJournalHandlerを生成する。
func NewJournalHandler(service JournalServiceInterface) *JournalHandler {
	return &JournalHandler{service: service}
}

// List はエントリを新しい順に返す。
// GET /journal
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// Create はエントリを作成する。
// POST /journal
func (h *JournalHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in journal.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	entry, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}
