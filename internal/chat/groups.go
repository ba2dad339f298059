package chat

import "strconv"

// LoggedUsersGroup is the broadcast group every authenticated connection
// joins; presence and registration events fan out through it.
const LoggedUsersGroup = "logged-users"

// ChatGroup returns the transport group name for a chat.
func ChatGroup(chatID int) string {
	return "chat-" + strconv.Itoa(chatID)
}

// GroupTransport is the group-membership primitive of the transport layer.
// Implemented by Hub; faked in tests.
type GroupTransport interface {
	AddConnectionToGroup(connID, group string) error
	RemoveConnectionFromGroup(connID, group string) error
}

// Broadcaster delivers events to a group, or to a group minus one
// connection. Single-connection traffic is the RPC reply path, which talks
// to the transport directly.
type Broadcaster interface {
	BroadcastToGroup(group, event string, payload any)
	BroadcastToGroupExcept(group, exceptConnID, event string, payload any)
}

// GroupSyncer keeps "which connections receive broadcasts for chat X"
// synchronized with chat membership and live connections. It has no state
// of its own; transport failures are surfaced to the caller, not retried.
type GroupSyncer struct {
	transport GroupTransport
	registry  *ConnectionRegistry
}

func NewGroupSyncer(transport GroupTransport, registry *ConnectionRegistry) *GroupSyncer {
	return &GroupSyncer{transport: transport, registry: registry}
}

// JoinConnectionToChats adds one (re)connected connection to the group of
// every chat the user participates in.
func (g *GroupSyncer) JoinConnectionToChats(connID string, chatIDs []int) error {
	for _, chatID := range chatIDs {
		if err := g.transport.AddConnectionToGroup(connID, ChatGroup(chatID)); err != nil {
			return err
		}
	}
	return nil
}

// JoinParticipantsToChat adds every current connection of every participant
// to the chat's group. A participant with three open tabs gets the
// broadcast on all three.
func (g *GroupSyncer) JoinParticipantsToChat(chatID int, userIDs []int) error {
	for _, userID := range userIDs {
		for _, connID := range g.registry.Connections(userID) {
			if err := g.transport.AddConnectionToGroup(connID, ChatGroup(chatID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// LeaveChat removes every current connection of the user from the chat's
// group.
func (g *GroupSyncer) LeaveChat(chatID, userID int) error {
	for _, connID := range g.registry.Connections(userID) {
		if err := g.transport.RemoveConnectionFromGroup(connID, ChatGroup(chatID)); err != nil {
			return err
		}
	}
	return nil
}

// statusBroadcaster adapts a Broadcaster into the StatusNotifier the
// presence coordinator wants.
type statusBroadcaster struct {
	b Broadcaster
}

// NewStatusNotifier returns a notifier that announces status changes to the
// logged-users group, mirroring what the frontend listens for.
func NewStatusNotifier(b Broadcaster) StatusNotifier {
	return &statusBroadcaster{b: b}
}

func (s *statusBroadcaster) NotifyOnlineStatus(userID int, online bool) {
	s.b.BroadcastToGroup(LoggedUsersGroup, EventUserStatusChanged, UserChat{
		UserID:   userID,
		IsOnline: online,
	})
}
