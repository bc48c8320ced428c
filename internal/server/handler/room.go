package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/service"
)

// DealReader resolves a deal's room binding.
type DealReader interface {
	GetDeal(ctx context.Context, dealID uint64) (service.DealView, error)
}

// RoomReader reads deal-room history.
type RoomReader interface {
	Messages(ctx context.Context, groupID string, limit int) ([]domain.RoomMessage, error)
}

// RoomHandler serves deal-room history.
type RoomHandler struct {
	deals  DealReader
	rooms  RoomReader
	logger *slog.Logger
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(deals DealReader, rooms RoomReader, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{deals: deals, rooms: rooms, logger: logHandler(logger, "rooms")}
}

type messagesResponse struct {
	GroupID  string               `json:"groupId"`
	Messages []domain.RoomMessage `json:"messages"`
}

// Messages returns the latest messages of a deal's room, oldest first.
// GET /api/deals/{id}/messages?limit=50
func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deal, err := h.deals.GetDeal(r.Context(), id)
	if err != nil {
		writeReadError(w, r, h.logger, "get deal", err)
		return
	}
	if deal.GroupID == "" {
		writeError(w, http.StatusNotFound, "deal "+strconv.FormatUint(id, 10)+" has no room yet")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.rooms.Messages(r.Context(), deal.GroupID, limit)
	if err != nil {
		writeReadError(w, r, h.logger, "room messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.RoomMessage{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{GroupID: deal.GroupID, Messages: msgs})
}
