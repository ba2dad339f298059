package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupSyncerJoinConnectionToChats(t *testing.T) {
	transport := newFakeTransport(nil)
	registry := NewConnectionRegistry()
	g := NewGroupSyncer(transport, registry)

	require.NoError(t, g.JoinConnectionToChats("conn-a", []int{1, 2, 3}))

	for _, chatID := range []int{1, 2, 3} {
		assert.Contains(t, transport.groupMembers(ChatGroup(chatID)), "conn-a")
	}
}

// Every open tab of every participant must receive the new chat's
// broadcasts.
func TestGroupSyncerJoinParticipantsFansOutToAllConnections(t *testing.T) {
	transport := newFakeTransport(nil)
	registry := NewConnectionRegistry()
	g := NewGroupSyncer(transport, registry)

	registry.AddConnection(1, "conn-1a")
	registry.AddConnection(1, "conn-1b")
	registry.AddConnection(1, "conn-1c")
	registry.AddConnection(2, "conn-2")
	// user 3 is offline

	require.NoError(t, g.JoinParticipantsToChat(7, []int{1, 2, 3}))

	assert.ElementsMatch(t,
		[]string{"conn-1a", "conn-1b", "conn-1c", "conn-2"},
		transport.groupMembers(ChatGroup(7)))
}

func TestGroupSyncerLeaveChatRemovesEveryConnection(t *testing.T) {
	transport := newFakeTransport(nil)
	registry := NewConnectionRegistry()
	g := NewGroupSyncer(transport, registry)

	registry.AddConnection(1, "conn-1a")
	registry.AddConnection(1, "conn-1b")
	registry.AddConnection(2, "conn-2")
	require.NoError(t, g.JoinParticipantsToChat(7, []int{1, 2}))

	require.NoError(t, g.LeaveChat(7, 1))

	assert.ElementsMatch(t, []string{"conn-2"}, transport.groupMembers(ChatGroup(7)))
}
