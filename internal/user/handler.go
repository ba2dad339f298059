package user

import (
	"encoding/json"
	"net/http"

	"go-chat-server/internal/chat"
)

type Handler struct {
	service   *Service
	tokens    *RefreshTokenStore
	broadcast chat.Broadcaster
}

func NewHandler(service *Service, tokens *RefreshTokenStore, broadcast chat.Broadcaster) *Handler {
	return &Handler{
		service:   service,
		tokens:    tokens,
		broadcast: broadcast,
	}
}

// Register creates the account, issues both tokens and tells all logged-in
// users about the newcomer.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userID, err := h.service.Register(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := h.service.GenerateToken(userID, req.Nickname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.setRefreshCookie(w, r, userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.broadcast.BroadcastToGroup(chat.LoggedUsersGroup, chat.EventUserRegister, chat.UserChat{
		UserID:   userID,
		Nickname: req.Nickname,
		IsOnline: true,
	})

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(TokenResponse{Token: token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := h.service.GenerateToken(u.ID, u.Nickname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.setRefreshCookie(w, r, u.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(TokenResponse{Token: token})
}

// Refresh issues a new access token. The caller presents their (possibly
// expired) access token plus the refresh cookie; the signature of the
// former and the stored value of the latter are both checked.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < len("Bearer ") {
		http.Error(w, "auth header is required for refresh", http.StatusUnauthorized)
		return
	}
	userID, nickname, err := h.service.ParseExpiredToken(authHeader[len("Bearer "):])
	if err != nil {
		http.Error(w, "auth header is required for refresh", http.StatusUnauthorized)
		return
	}

	cookie, err := r.Cookie("refreshToken")
	if err != nil {
		http.Error(w, "refresh token is missing", http.StatusUnauthorized)
		return
	}
	valid, err := h.tokens.Validate(r.Context(), userID, cookie.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !valid {
		http.Error(w, "refresh token is not valid", http.StatusUnauthorized)
		return
	}

	token, err := h.service.GenerateToken(userID, nickname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(TokenResponse{Token: token})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, userID int) error {
	token, expires, err := h.tokens.Issue(r.Context(), userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
		Path:     "/",
	})
	return nil
}
