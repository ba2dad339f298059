package chat

import (
	"strings"
	"time"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Chat struct {
	ChatID      int       `json:"chatId"`
	ChatName    string    `json:"chatName"` // empty for private chats
	IsGroup     bool      `json:"isGroup"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ChatParticipant links a user to a chat. LastVisited is advanced whenever
// the user opens the chat and drives the unread count.
type ChatParticipant struct {
	UserID      int       `json:"userId"`
	ChatID      int       `json:"chatId"`
	LastVisited time.Time `json:"lastVisited"`
}

type Message struct {
	MessageID int       `json:"messageId"`
	ChatID    int       `json:"chatId"`
	SenderID  int       `json:"senderId"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sentAt"`
}

// UserChat is the user directory entry shipped to the frontend.
type UserChat struct {
	UserID   int    `json:"userId"`
	Nickname string `json:"nickname"`
	IsOnline bool   `json:"isOnline"`
}

// ChatDTO is a chat annotated for one viewing user. Off-going (candidate)
// chats have no id and no activity yet, hence the pointers.
type ChatDTO struct {
	ChatID       *int       `json:"chatId"`
	ChatName     string     `json:"chatName"`
	LastUpdated  *time.Time `json:"lastUpdated"`
	Participants []int      `json:"participants"`
	IsGroup      bool       `json:"isGroup"`
	UnreadCount  int        `json:"unreadCount"`
}

// DashboardView is the initial state of the app for one user: the chats
// they are in, a placeholder chat per user they could still start one with,
// and the user directory. Derived on demand, never stored.
type DashboardView struct {
	OnGoingChats  []ChatDTO  `json:"onGoingChats"`
	OffGoingChats []ChatDTO  `json:"offGoingChats"`
	Users         []UserChat `json:"users"`
}

type HourReport struct {
	Hour             int     `json:"hour"`
	AvgMessageLength float64 `json:"avgMessageLength"`
}

// ---------------------------------------------
// RPC request payloads
// ---------------------------------------------

const maxChatNameLen = 100

type CreateChatRequest struct {
	Name           string    `json:"name"`
	ParticipantIDs []int     `json:"participantsIds"`
	IsGroup        bool      `json:"isGroup"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (r *CreateChatRequest) Validate() error {
	if len(r.ParticipantIDs) == 0 {
		return validationErr("you must select at least one participant")
	}
	if len(r.Name) > maxChatNameLen {
		return validationErr("chat name has at most 100 characters")
	}
	if r.UpdatedAt.IsZero() {
		return validationErr("update date is required")
	}
	if r.IsGroup && strings.TrimSpace(r.Name) == "" {
		return validationErr("group chat must have a name")
	}
	if !r.IsGroup && len(r.ParticipantIDs) != 2 {
		return validationErr("private chat must have exactly two participants")
	}
	return nil
}

type SendMessageRequest struct {
	ChatID  int       `json:"chatId"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func (r *SendMessageRequest) Validate() error {
	if r.ChatID <= 0 {
		return validationErr("chat id is required")
	}
	if r.Content == "" {
		return validationErr("message content is required")
	}
	if r.SentAt.IsZero() {
		return validationErr("sent date is required")
	}
	return nil
}

type LeaveGroupRequest struct {
	ChatID int `json:"chatId"`
}

func (r *LeaveGroupRequest) Validate() error {
	if r.ChatID <= 0 {
		return validationErr("chat id must be greater than 0")
	}
	return nil
}

// ---------------------------------------------
// Events pushed over the socket
// ---------------------------------------------

const (
	EventReceiveMessage    = "ReceiveMessage"
	EventNewChatCreated    = "NewChatCreated"
	EventUserStatusChanged = "UserOnlineStatusChanged"
	EventUserRegister      = "UserRegister"
)

// Event is the envelope for every server-initiated push.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// ChatCreatedEvent notifies participants that they were added to a new chat.
type ChatCreatedEvent struct {
	Chat      ChatDTO `json:"chat"`
	CreatorID int     `json:"creatorId"`
}
