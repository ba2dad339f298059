package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	myMiddleware "go-chat-server/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// UserDirectory is what we need from the user feature: the directory shown
// on the dashboard. Keeps the packages loosely coupled.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]UserChat, error)
}

type Handler struct {
	repo        *Repository
	coordinator *Coordinator
	hub         *Hub
	registry    *ConnectionRegistry
	users       UserDirectory
	reportLoc   *time.Location
}

func NewHandler(repo *Repository, coordinator *Coordinator, hub *Hub, registry *ConnectionRegistry, users UserDirectory, reportLoc *time.Location) *Handler {
	if reportLoc == nil {
		reportLoc = time.UTC
	}
	return &Handler{
		repo:        repo,
		coordinator: coordinator,
		hub:         hub,
		registry:    registry,
		users:       users,
		reportLoc:   reportLoc,
	}
}

// ServeWs upgrades the request and registers the connection with the
// coordinator. The user is already authenticated by the middleware.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := newClient(h.hub, h.coordinator, conn, uuid.NewString(), userID)
	h.hub.Register(client)

	if err := h.coordinator.OnConnect(r.Context(), userID, client.id); err != nil {
		log.Printf("connect %s: %v", client.id, err)
		h.hub.Unregister(client)
		h.coordinator.OnDisconnect(userID, client.id)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Dashboard returns the initial state of the app for the calling user.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	for i := range users {
		users[i].IsOnline = h.registry.IsOnline(users[i].UserID)
	}

	chats, err := h.repo.Chats(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	participants, err := h.repo.Participants(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	messages, err := h.repo.Messages(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, AssembleDashboard(userID, users, chats, participants, messages))
}

// Messages returns the chat's history ordered by sent time.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.Atoi(chi.URLParam(r, "chatId"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	messages, err := h.repo.MessagesForChat(r.Context(), chatID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"messages": messages})
}

// UpdateLastVisited stamps the moment the user read the chat, resetting
// their unread count.
func (h *Handler) UpdateLastVisited(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID, err := strconv.Atoi(chi.URLParam(r, "chatId"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.RFC3339, r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateChatLastVisited(r.Context(), userID, chatID, date); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Report returns the average message length per hour of a local-time day.
// The store aggregates per UTC hour, so the local day is assembled from the
// UTC day and the tail of the one before it, shifted by the configured
// timezone offset.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	_, offsetSec := time.Now().In(h.reportLoc).Zone()
	offset := offsetSec / 3600

	yesterday, err := h.repo.HourReports(ctx, date.AddDate(0, 0, -1))
	if err != nil {
		h.writeError(w, err)
		return
	}
	today, err := h.repo.HourReports(ctx, date)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{"reports": mergeHourReports(yesterday, today, offset)})
}

// mergeHourReports assembles one local-time day out of two UTC-day
// aggregates: the tail of the previous UTC day that spills into the local
// day plus the part of the UTC day itself that stays in it. Every kept hour
// is shifted into local time.
func mergeHourReports(yesterday, today []HourReport, offset int) []HourReport {
	reports := make([]HourReport, 0, len(yesterday)+len(today))
	for _, rep := range yesterday {
		if rep.Hour+offset >= 24 {
			rep.Hour = (rep.Hour + offset) % 24
			reports = append(reports, rep)
		}
	}
	for _, rep := range today {
		if rep.Hour+offset < 24 {
			rep.Hour = (rep.Hour + offset) % 24
			reports = append(reports, rep)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Hour < reports[j].Hour })
	return reports
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
