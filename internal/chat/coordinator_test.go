package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(store *fakeStore, log *opLog) (*Coordinator, *fakeTransport, *ConnectionRegistry) {
	transport := newFakeTransport(log)
	registry := NewConnectionRegistry()
	presence := NewPresence(registry, NewStatusNotifier(transport), testDebounce)
	groups := NewGroupSyncer(transport, registry)
	return NewCoordinator(store, registry, groups, transport, presence), transport, registry
}

// Firing CreateChat for the pair (A,B) and (B,A) concurrently, many times,
// must yield exactly one persisted chat with every call returning its id.
func TestCreatePrivateChatDeduplicatesUnderRace(t *testing.T) {
	store := newFakeStore()
	store.findDelay = time.Millisecond
	coord, _, _ := newTestCoordinator(store, nil)

	const callers = 40
	at := time.Now()

	ids := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			participants := []int{1, 2}
			if i%2 == 1 {
				participants = []int{2, 1} // other side initiates
			}
			id, err := coord.CreateChat(context.Background(), participants[0], fmt.Sprintf("conn-%d", i), CreateChatRequest{
				ParticipantIDs: participants,
				IsGroup:        false,
				UpdatedAt:      at,
			})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.privateChatCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller must get the same chat id")
	}
	assert.Zero(t, coord.pairLocks.Len(), "pair lock entries must not leak")
}

func TestCreatePrivateChatNotifiesOthersOnly(t *testing.T) {
	store := newFakeStore()
	coord, transport, registry := newTestCoordinator(store, nil)

	registry.AddConnection(1, "creator-conn")
	registry.AddConnection(2, "peer-conn")

	chatID, err := coord.CreateChat(context.Background(), 1, "creator-conn", CreateChatRequest{
		ParticipantIDs: []int{1, 2},
		UpdatedAt:      time.Now(),
	})
	require.NoError(t, err)

	// Both sides' connections joined the chat's group.
	assert.ElementsMatch(t, []string{"creator-conn", "peer-conn"}, transport.groupMembers(ChatGroup(chatID)))

	events := transport.eventsNamed(EventNewChatCreated)
	require.Len(t, events, 1)
	assert.Equal(t, ChatGroup(chatID), events[0].Group)
	assert.Equal(t, "creator-conn", events[0].ExceptConn, "creator already has the id as return value")
}

func TestCreateGroupChatNotifiesEveryone(t *testing.T) {
	store := newFakeStore()
	coord, transport, registry := newTestCoordinator(store, nil)

	registry.AddConnection(1, "conn-1")
	registry.AddConnection(2, "conn-2a")
	registry.AddConnection(2, "conn-2b") // second tab must be reached too
	registry.AddConnection(3, "conn-3")

	chatID, err := coord.CreateChat(context.Background(), 1, "conn-1", CreateChatRequest{
		Name:           "weekend plans",
		ParticipantIDs: []int{1, 2, 3},
		IsGroup:        true,
		UpdatedAt:      time.Now(),
	})
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"conn-1", "conn-2a", "conn-2b", "conn-3"},
		transport.groupMembers(ChatGroup(chatID)))

	events := transport.eventsNamed(EventNewChatCreated)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ExceptConn, "group creation goes to the creator too")
}

func TestCreateChatValidation(t *testing.T) {
	store := newFakeStore()
	coord, _, _ := newTestCoordinator(store, nil)
	ctx := context.Background()
	at := time.Now()

	_, err := coord.CreateChat(ctx, 1, "c", CreateChatRequest{IsGroup: true, UpdatedAt: at})
	assert.True(t, IsValidation(err), "group without participants: %v", err)

	_, err = coord.CreateChat(ctx, 1, "c", CreateChatRequest{ParticipantIDs: []int{1, 2}, IsGroup: true, UpdatedAt: at})
	assert.True(t, IsValidation(err), "group without name: %v", err)

	_, err = coord.CreateChat(ctx, 1, "c", CreateChatRequest{ParticipantIDs: []int{1, 2, 3}, UpdatedAt: at})
	assert.True(t, IsValidation(err), "private chat with three participants: %v", err)

	assert.Zero(t, store.privateChatCount(), "validation failures must be side-effect-free")
}

// N concurrent sends against one chat append N messages, leave the
// last-activity stamp at the max sentAt, never interleave one sender's
// append/bump pair with another's, and leave no lock entry behind.
func TestSendMessageSerializesCompoundWrite(t *testing.T) {
	store := newFakeStore()
	coord, transport, _ := newTestCoordinator(store, nil)
	ctx := context.Background()

	chatID, err := store.CreateChat(ctx, "", false, time.Unix(0, 0))
	require.NoError(t, err)
	require.NoError(t, store.InsertParticipants(ctx, chatID, []int{1, 2}, time.Unix(0, 0)))

	const senders = 40
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := coord.SendMessage(ctx, 1+i%2, SendMessageRequest{
				ChatID:  chatID,
				Content: fmt.Sprintf("message %d", i),
				SentAt:  base.Add(time.Duration(i) * time.Millisecond),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, senders, store.messageCount(chatID))
	assert.Zero(t, store.violations, "append/bump pairs interleaved")

	c, ok := store.chat(chatID)
	require.True(t, ok)
	assert.Equal(t, base.Add((senders-1)*time.Millisecond), c.LastUpdated)

	assert.Zero(t, coord.chatLocks.Len(), "chat lock entries must not leak")
	assert.Len(t, transport.eventsNamed(EventReceiveMessage), senders)
}

func TestSendMessageToMissingChat(t *testing.T) {
	store := newFakeStore()
	coord, _, _ := newTestCoordinator(store, nil)

	_, err := coord.SendMessage(context.Background(), 1, SendMessageRequest{
		ChatID:  42,
		Content: "hello?",
		SentAt:  time.Now(),
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, coord.chatLocks.Len())
}

func TestLeaveGroupCascadeDelete(t *testing.T) {
	store := newFakeStore()
	coord, _, _ := newTestCoordinator(store, nil)
	ctx := context.Background()
	at := time.Now()

	t.Run("last participant leaving deletes the chat", func(t *testing.T) {
		chatID, err := store.CreateChat(ctx, "", false, at)
		require.NoError(t, err)
		require.NoError(t, store.InsertParticipants(ctx, chatID, []int{1, 2}, at))
		_, err = store.AddMessage(ctx, chatID, 1, "bye", at)
		require.NoError(t, err)
		require.NoError(t, store.UpdateChatLastUpdated(ctx, chatID, at))

		require.NoError(t, coord.LeaveGroup(ctx, 1, LeaveGroupRequest{ChatID: chatID}))
		_, ok := store.chat(chatID)
		assert.True(t, ok, "chat must survive with one participant left")
		assert.Equal(t, 1, store.participantCount(chatID))

		require.NoError(t, coord.LeaveGroup(ctx, 2, LeaveGroupRequest{ChatID: chatID}))
		_, ok = store.chat(chatID)
		assert.False(t, ok, "empty chat must be deleted")
		assert.Zero(t, store.messageCount(chatID), "messages go with the chat")
	})

	t.Run("group stays intact while members remain", func(t *testing.T) {
		chatID, err := store.CreateChat(ctx, "trio", true, at)
		require.NoError(t, err)
		require.NoError(t, store.InsertParticipants(ctx, chatID, []int{1, 2, 3}, at))

		require.NoError(t, coord.LeaveGroup(ctx, 2, LeaveGroupRequest{ChatID: chatID}))

		_, ok := store.chat(chatID)
		assert.True(t, ok)
		assert.Equal(t, 2, store.participantCount(chatID))
	})
}

// The user's connections leave the transport group before the participation
// record is deleted, so no broadcast can reach them afterwards.
func TestLeaveGroupRemovesTransportMembershipFirst(t *testing.T) {
	log := &opLog{}
	store := newFakeStore()
	store.log = log
	coord, _, registry := newTestCoordinator(store, log)
	ctx := context.Background()
	at := time.Now()

	chatID, err := store.CreateChat(ctx, "trio", true, at)
	require.NoError(t, err)
	require.NoError(t, store.InsertParticipants(ctx, chatID, []int{1, 2, 3}, at))
	registry.AddConnection(2, "conn-2")
	require.NoError(t, coord.groups.JoinParticipantsToChat(chatID, []int{2}))

	require.NoError(t, coord.LeaveGroup(ctx, 2, LeaveGroupRequest{ChatID: chatID}))

	var removeIdx, deleteIdx = -1, -1
	for i, entry := range log.snapshot() {
		if strings.HasPrefix(entry, "transport:remove conn-2") {
			removeIdx = i
		}
		if strings.HasPrefix(entry, "store:delete-participant") {
			deleteIdx = i
		}
	}
	require.NotEqual(t, -1, removeIdx)
	require.NotEqual(t, -1, deleteIdx)
	assert.Less(t, removeIdx, deleteIdx, "group removal must precede store deletion")
}

func TestOnConnectJoinsExistingChatsAndLoggedUsers(t *testing.T) {
	store := newFakeStore()
	coord, transport, registry := newTestCoordinator(store, nil)
	ctx := context.Background()
	at := time.Now()

	chat1, err := store.CreateChat(ctx, "", false, at)
	require.NoError(t, err)
	require.NoError(t, store.InsertParticipants(ctx, chat1, []int{1, 2}, at))
	chat2, err := store.CreateChat(ctx, "team", true, at)
	require.NoError(t, err)
	require.NoError(t, store.InsertParticipants(ctx, chat2, []int{1, 3}, at))

	require.NoError(t, coord.OnConnect(ctx, 1, "conn-1"))

	assert.Contains(t, transport.groupMembers(ChatGroup(chat1)), "conn-1")
	assert.Contains(t, transport.groupMembers(ChatGroup(chat2)), "conn-1")
	assert.Contains(t, transport.groupMembers(LoggedUsersGroup), "conn-1")
	assert.True(t, registry.IsOnline(1))

	// First connection flips the user online.
	events := transport.eventsNamed(EventUserStatusChanged)
	require.Len(t, events, 1)
	status := events[0].Payload.(UserChat)
	assert.True(t, status.IsOnline)
	assert.Equal(t, 1, status.UserID)
}

func TestOnDisconnectDebouncesOfflineBroadcast(t *testing.T) {
	store := newFakeStore()
	coord, transport, _ := newTestCoordinator(store, nil)
	ctx := context.Background()

	require.NoError(t, coord.OnConnect(ctx, 1, "conn-1"))
	coord.OnDisconnect(1, "conn-1")

	// Reconnect inside the window, as a token refresh does.
	require.NoError(t, coord.OnConnect(ctx, 1, "conn-2"))

	time.Sleep(3 * testDebounce)

	for _, e := range transport.eventsNamed(EventUserStatusChanged) {
		assert.True(t, e.Payload.(UserChat).IsOnline, "no offline broadcast expected")
	}
}
