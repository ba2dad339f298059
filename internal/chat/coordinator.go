package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Store is the transactional store the coordinator runs against. Each call
// is atomic and durable on its own; the coordinator layers its own locking
// on top and does not retry — a store failure propagates to the caller.
type Store interface {
	FindPrivateChat(ctx context.Context, user1ID, user2ID int) (int, error) // 0 = none
	CreateChat(ctx context.Context, name string, isGroup bool, at time.Time) (int, error)
	InsertParticipants(ctx context.Context, chatID int, userIDs []int, at time.Time) error
	DeleteParticipant(ctx context.Context, chatID, userID int) (remaining int, err error)
	DeleteChat(ctx context.Context, chatID int) error
	AddMessage(ctx context.Context, chatID, senderID int, content string, at time.Time) (int, error)
	UpdateChatLastUpdated(ctx context.Context, chatID int, at time.Time) error
	UserChatIDs(ctx context.Context, userID int) ([]int, error)
}

// Coordinator implements the transaction-like chat operations: deduplicated
// private chat creation, group chat creation, per-chat serialized message
// sends, and leave-group with cascade delete. It also owns the connect and
// disconnect lifecycle.
type Coordinator struct {
	store       Store
	registry    *ConnectionRegistry
	groups      *GroupSyncer
	broadcaster Broadcaster
	presence    *Presence

	// Both lock registries use the same ref-counted keyed mutex, so an
	// entry is only evicted once its last holder or waiter is done.
	pairLocks *KeyedMutex // private-chat pair dedup, key "lo-hi"
	chatLocks *KeyedMutex // per-chat message serialization, key chat id
}

func NewCoordinator(store Store, registry *ConnectionRegistry, groups *GroupSyncer, broadcaster Broadcaster, presence *Presence) *Coordinator {
	return &Coordinator{
		store:       store,
		registry:    registry,
		groups:      groups,
		broadcaster: broadcaster,
		presence:    presence,
		pairLocks:   NewKeyedMutex(),
		chatLocks:   NewKeyedMutex(),
	}
}

// OnConnect registers a new authenticated connection: it joins the groups
// of every chat the user participates in plus the logged-users group, and
// lets presence decide whether this is an offline→online transition.
func (c *Coordinator) OnConnect(ctx context.Context, userID int, connID string) error {
	c.registry.AddConnection(userID, connID)

	chatIDs, err := c.store.UserChatIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user chats: %w", err)
	}
	if err := c.groups.JoinConnectionToChats(connID, chatIDs); err != nil {
		return fmt.Errorf("join chat groups: %w", err)
	}
	if err := c.groups.transport.AddConnectionToGroup(connID, LoggedUsersGroup); err != nil {
		return fmt.Errorf("join logged-users group: %w", err)
	}

	c.presence.HandleConnect(userID)
	return nil
}

// OnDisconnect drops the connection from the registry and schedules the
// debounced presence check if it was the user's last one.
func (c *Coordinator) OnDisconnect(userID int, connID string) {
	c.registry.RemoveConnection(userID, connID)
	c.presence.HandleDisconnect(userID)
}

// CreateChat validates the request and dispatches to private or group chat
// creation. connID identifies the caller's connection; the creation event
// is not echoed back to it since the chat id is the direct return value.
func (c *Coordinator) CreateChat(ctx context.Context, userID int, connID string, req CreateChatRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.IsGroup {
		return c.createGroupChat(ctx, userID, req)
	}
	return c.createPrivateChat(ctx, userID, connID, req)
}

// createPrivateChat guarantees that under arbitrary concurrent calls for
// the same pair exactly one chat is ever created: the existence check and
// the create run under the pair's keyed lock, and both callers get the same
// id.
func (c *Coordinator) createPrivateChat(ctx context.Context, userID int, connID string, req CreateChatRequest) (int, error) {
	user1ID, user2ID := req.ParticipantIDs[0], req.ParticipantIDs[1]
	key := PairKey(user1ID, user2ID)

	var chatID int
	err := c.pairLocks.WithLock(key, func() error {
		existingID, err := c.store.FindPrivateChat(ctx, user1ID, user2ID)
		if err != nil {
			return fmt.Errorf("find private chat: %w", err)
		}
		if existingID != 0 {
			// Chat already exists, no need to add the participants.
			chatID = existingID
			return nil
		}
		chatID, err = c.store.CreateChat(ctx, req.Name, false, req.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		if err := c.store.InsertParticipants(ctx, chatID, req.ParticipantIDs, req.UpdatedAt); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := c.groups.JoinParticipantsToChat(chatID, req.ParticipantIDs); err != nil {
		return 0, fmt.Errorf("sync chat group: %w", err)
	}

	// Notify the other participant's connections only.
	c.broadcaster.BroadcastToGroupExcept(ChatGroup(chatID), connID, EventNewChatCreated, ChatCreatedEvent{
		Chat:      newChatDTO(chatID, req),
		CreatorID: userID,
	})
	return chatID, nil
}

// createGroupChat creates a group chat. Groups are never deduplicated, so
// no pairwise lock is involved.
func (c *Coordinator) createGroupChat(ctx context.Context, userID int, req CreateChatRequest) (int, error) {
	chatID, err := c.store.CreateChat(ctx, req.Name, true, req.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("create chat: %w", err)
	}
	if err := c.store.InsertParticipants(ctx, chatID, req.ParticipantIDs, req.UpdatedAt); err != nil {
		return 0, fmt.Errorf("insert participants: %w", err)
	}

	if err := c.groups.JoinParticipantsToChat(chatID, req.ParticipantIDs); err != nil {
		return 0, fmt.Errorf("sync chat group: %w", err)
	}

	// Everybody including the creator learns about a new group chat.
	c.broadcaster.BroadcastToGroup(ChatGroup(chatID), EventNewChatCreated, ChatCreatedEvent{
		Chat:      newChatDTO(chatID, req),
		CreatorID: userID,
	})
	return chatID, nil
}

// SendMessage appends the message and bumps the chat's last-updated stamp
// as one unit under the chat's keyed lock: two concurrent senders can never
// interleave their append/bump pairs. The broadcast happens outside the
// lock.
func (c *Coordinator) SendMessage(ctx context.Context, senderID int, req SendMessageRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	key := strconv.Itoa(req.ChatID)
	var messageID int
	err := c.chatLocks.WithLock(key, func() error {
		var err error
		messageID, err = c.store.AddMessage(ctx, req.ChatID, senderID, req.Content, req.SentAt)
		if err != nil {
			return fmt.Errorf("add message: %w", err)
		}
		if err := c.store.UpdateChatLastUpdated(ctx, req.ChatID, req.SentAt); err != nil {
			return fmt.Errorf("update chat activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.broadcaster.BroadcastToGroup(ChatGroup(req.ChatID), EventReceiveMessage, Message{
		MessageID: messageID,
		ChatID:    req.ChatID,
		SenderID:  senderID,
		Content:   req.Content,
		SentAt:    req.SentAt,
	})
	return messageID, nil
}

// LeaveGroup removes the user's connections from the chat's group before
// deleting the participation record, so no further broadcast can reach a
// connection whose owner no longer participates. The last participant
// leaving deletes the chat and its messages.
func (c *Coordinator) LeaveGroup(ctx context.Context, userID int, req LeaveGroupRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if err := c.groups.LeaveChat(req.ChatID, userID); err != nil {
		return fmt.Errorf("leave chat group: %w", err)
	}

	remaining, err := c.store.DeleteParticipant(ctx, req.ChatID, userID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if remaining == 0 {
		if err := c.store.DeleteChat(ctx, req.ChatID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	return nil
}

func newChatDTO(chatID int, req CreateChatRequest) ChatDTO {
	id := chatID
	updated := req.UpdatedAt
	return ChatDTO{
		ChatID:       &id,
		ChatName:     req.Name,
		LastUpdated:  &updated,
		Participants: req.ParticipantIDs,
		IsGroup:      req.IsGroup,
	}
}
