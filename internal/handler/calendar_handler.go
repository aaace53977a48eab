package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calendarbridge/internal/middleware"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// CalendarGateway はカレンダーハンドラーが必要とする委任アクセスの操作。
type CalendarGateway interface {
	ListUpcoming(ctx context.Context, email string) ([]model.Event, error)
	Schedule(ctx context.Context, email string, draft model.EventDraft) (model.Event, error)
	Delete(ctx context.Context, email, eventID string) error
}

// CalendarHandler はカレンダー操作のHTTPハンドラー。
// 操作対象はセッションのユーザー。パスの{email}はルーターのガードで照合済み。
type CalendarHandler struct {
	gateway CalendarGateway
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(gateway CalendarGateway) *CalendarHandler {
	return &CalendarHandler{gateway: gateway}
}

type statusResponse struct {
	Status string `json:"status"`
}

// ListEvents は直近のイベント一覧を返す。
// GET /calendar-events/{email}
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.gateway.ListUpcoming(r.Context(), middleware.EmailFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ScheduleEvent はイベントを登録し、登録されたイベントを返す。
// POST /schedule-event/{email}
func (h *CalendarHandler) ScheduleEvent(w http.ResponseWriter, r *http.Request) {
	var draft model.EventDraft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&draft); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEventError("request body must be a valid event"))
		return
	}

	created, err := h.gateway.Schedule(r.Context(), middleware.EmailFromContext(r.Context()), draft)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// DeleteEvent はイベントを削除する。
// DELETE /delete-event/{eventId}/{email}
func (h *CalendarHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := h.gateway.Delete(r.Context(), middleware.EmailFromContext(r.Context()), chi.URLParam(r, "eventId"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}
