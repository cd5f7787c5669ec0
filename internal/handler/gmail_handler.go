package handler

import (
	"context"
	"net/http"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/validation"
)

// GmailGateway はGmailハンドラーが必要とするGmailの操作。
type GmailGateway interface {
	ListUnreadEmails(ctx context.Context, userID string) ([]model.Email, error)
	SendEmail(ctx context.Context, userID string, out model.OutgoingEmail) (string, error)
}

// GmailHandler はGmailのHTTPハンドラー。
type GmailHandler struct {
	gateway GmailGateway
}

// NewGmailHandler はGmailHandlerを生成する。
func NewGmailHandler(gateway GmailGateway) *GmailHandler {
	return &GmailHandler{gateway: gateway}
}

// sendEmailRequest はメール送信リクエストのボディ。
type sendEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"max=998"`
	Body    string `json:"body" validate:"required,max=100000"`
}

// ListEmails は未読メールの一覧を返す。連携未接続の場合は400。
// GET /gmail/emails
func (h *GmailHandler) ListEmails(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	emails, err := h.gateway.ListUnreadEmails(r.Context(), userID)
	if err != nil {
		handleIntegrationError(w, r, model.ServiceGmail, err)
		return
	}
	if emails == nil {
		emails = []model.Email{}
	}

	writeJSON(w, http.StatusOK, emails)
}

// Send はメールを1通送信する。再試行はしない。
// POST /gmail/send
func (h *GmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	id, err := h.gateway.SendEmail(r.Context(), userID, model.OutgoingEmail{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		handleIntegrationError(w, r, model.ServiceGmail, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
