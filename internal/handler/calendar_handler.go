package handler

import (
	"context"
	"net/http"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/validation"
)

// CalendarGateway はカレンダーハンドラーが必要とするGoogle Calendarの操作。
type CalendarGateway interface {
	ListEvents(ctx context.Context, userID string) ([]model.CalendarEvent, error)
	ListCalendars(ctx context.Context, userID string) ([]model.RemoteCalendar, error)
}

// CalendarHandler はカレンダーのHTTPハンドラー。
type CalendarHandler struct {
	calendars repository.CalendarRepository
	gateway   CalendarGateway
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(calendars repository.CalendarRepository, gateway CalendarGateway) *CalendarHandler {
	return &CalendarHandler{
		calendars: calendars,
		gateway:   gateway,
	}
}

// calendarUpdateRequest はPUT /calendarsの1件分。
type calendarUpdateRequest struct {
	ID       string  `json:"id" validate:"required,uuid"`
	Selected *bool   `json:"selected"`
	Color    *string `json:"color" validate:"omitempty,hexcolor"`
}

type calendarUpdateBatch struct {
	Items []calendarUpdateRequest `json:"items" validate:"required,min=1,max=250,dive"`
}

// List は保存済みのカレンダー一覧を返す。
// GET /calendars
func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	calendars, err := h.calendars.ListByUserID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, calendars)
}

// Update はカレンダーの表示選択と色を更新する。
// PUT /calendars
func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var batch calendarUpdateBatch
	if !decodeJSON(w, r, &batch.Items) {
		return
	}
	if err := validation.Struct(batch); err != nil {
		handleServiceError(w, r, err)
		return
	}

	updates := make([]model.CalendarUpdate, 0, len(batch.Items))
	for _, item := range batch.Items {
		updates = append(updates, model.CalendarUpdate{ID: item.ID, Selected: item.Selected, Color: item.Color})
	}
	if err := h.calendars.UpdateForUser(r.Context(), userID, updates); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.List(w, r)
}

// Sync はGoogleのカレンダー一覧を取得して保存済みの一覧へ反映する。
// POST /calendars/sync
func (h *CalendarHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	remote, err := h.gateway.ListCalendars(r.Context(), userID)
	if err != nil {
		handleIntegrationError(w, r, model.ServiceCalendar, err)
		return
	}
	if err := h.calendars.SyncFromRemote(r.Context(), userID, remote); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.List(w, r)
}

// Events は主カレンダーの直近の予定を返す。
// GET /api/calendar/events
func (h *CalendarHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	events, err := h.gateway.ListEvents(r.Context(), userID)
	if err != nil {
		handleIntegrationError(w, r, model.ServiceCalendar, err)
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}
