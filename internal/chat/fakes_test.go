package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// opLog records the order of cross-component operations so tests can assert
// sequencing (e.g. transport removal before store deletion).
type opLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// fakeTransport implements GroupTransport and Broadcaster in memory.
type fakeTransport struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
	events []fakeEvent
	log    *opLog
}

type fakeEvent struct {
	Group      string
	ExceptConn string
	Event      string
	Payload    any
}

func newFakeTransport(log *opLog) *fakeTransport {
	return &fakeTransport{
		groups: make(map[string]map[string]struct{}),
		log:    log,
	}
}

func (t *fakeTransport) AddConnectionToGroup(connID, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[group] == nil {
		t.groups[group] = make(map[string]struct{})
	}
	t.groups[group][connID] = struct{}{}
	if t.log != nil {
		t.log.add("transport:add %s %s", connID, group)
	}
	return nil
}

func (t *fakeTransport) RemoveConnectionFromGroup(connID, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[group], connID)
	if t.log != nil {
		t.log.add("transport:remove %s %s", connID, group)
	}
	return nil
}

func (t *fakeTransport) BroadcastToGroup(group, event string, payload any) {
	t.record(fakeEvent{Group: group, Event: event, Payload: payload})
}

func (t *fakeTransport) BroadcastToGroupExcept(group, exceptConnID, event string, payload any) {
	t.record(fakeEvent{Group: group, ExceptConn: exceptConnID, Event: event, Payload: payload})
}

func (t *fakeTransport) record(e fakeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *fakeTransport) groupMembers(group string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.groups[group]))
	for connID := range t.groups[group] {
		out = append(out, connID)
	}
	return out
}

func (t *fakeTransport) eventsNamed(name string) []fakeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []fakeEvent
	for _, e := range t.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeStore is an in-memory Store. findDelay widens the race window between
// the existence check and the create, so a missing lock would actually fail
// the dedup test instead of passing by luck. The inFlight flag trips when a
// second sender's append lands between one sender's append and its
// timestamp bump.
type fakeStore struct {
	mu         sync.Mutex
	nextChatID int
	nextMsgID  int
	chats      map[int]*Chat
	parts      map[int]map[int]time.Time // chatID -> userID -> lastVisited
	messages   []Message

	findDelay  time.Duration
	inFlight   map[int]bool
	violations int

	log *opLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[int]*Chat),
		parts:    make(map[int]map[int]time.Time),
		inFlight: make(map[int]bool),
	}
}

func (s *fakeStore) FindPrivateChat(ctx context.Context, user1ID, user2ID int) (int, error) {
	time.Sleep(s.findDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chats {
		if c.IsGroup {
			continue
		}
		_, ok1 := s.parts[id][user1ID]
		_, ok2 := s.parts[id][user2ID]
		if ok1 && ok2 {
			return id, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) CreateChat(ctx context.Context, name string, isGroup bool, at time.Time) (int, error) {
	time.Sleep(s.findDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChatID++
	id := s.nextChatID
	s.chats[id] = &Chat{ChatID: id, ChatName: name, IsGroup: isGroup, LastUpdated: at}
	s.parts[id] = make(map[int]time.Time)
	return id, nil
}

func (s *fakeStore) InsertParticipants(ctx context.Context, chatID int, userIDs []int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parts[chatID] == nil {
		s.parts[chatID] = make(map[int]time.Time)
	}
	for _, userID := range userIDs {
		s.parts[chatID][userID] = at
	}
	return nil
}

func (s *fakeStore) DeleteParticipant(ctx context.Context, chatID, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.add("store:delete-participant %d %d", chatID, userID)
	}
	delete(s.parts[chatID], userID)
	return len(s.parts[chatID]), nil
}

func (s *fakeStore) DeleteChat(ctx context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.add("store:delete-chat %d", chatID)
	}
	delete(s.chats, chatID)
	delete(s.parts, chatID)
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *fakeStore) AddMessage(ctx context.Context, chatID, senderID int, content string, at time.Time) (int, error) {
	s.mu.Lock()
	if _, ok := s.chats[chatID]; !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if s.inFlight[chatID] {
		s.violations++
	}
	s.inFlight[chatID] = true
	s.nextMsgID++
	id := s.nextMsgID
	s.messages = append(s.messages, Message{
		MessageID: id, ChatID: chatID, SenderID: senderID, Content: content, SentAt: at,
	})
	s.mu.Unlock()

	// Yield so a racing sender gets a chance to interleave if the
	// coordinator's lock is broken.
	time.Sleep(time.Millisecond)
	return id, nil
}

func (s *fakeStore) UpdateChatLastUpdated(ctx context.Context, chatID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if !s.inFlight[chatID] {
		s.violations++
	}
	s.inFlight[chatID] = false
	if at.After(c.LastUpdated) {
		c.LastUpdated = at
	}
	return nil
}

func (s *fakeStore) UserChatIDs(ctx context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for chatID, members := range s.parts {
		if _, ok := members[userID]; ok {
			out = append(out, chatID)
		}
	}
	return out, nil
}

func (s *fakeStore) privateChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chats {
		if !c.IsGroup {
			n++
		}
	}
	return n
}

func (s *fakeStore) chat(chatID int) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, false
	}
	return *c, true
}

func (s *fakeStore) participantCount(chatID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts[chatID])
}

func (s *fakeStore) messageCount(chatID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n
}

// fakeNotifier records presence transitions.
type fakeNotifier struct {
	mu     sync.Mutex
	events []statusEvent
}

type statusEvent struct {
	UserID int
	Online bool
}

func (n *fakeNotifier) NotifyOnlineStatus(userID int, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, statusEvent{UserID: userID, Online: online})
}

func (n *fakeNotifier) snapshot() []statusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]statusEvent(nil), n.events...)
}
