package chat

import "sort"

// AssembleDashboard derives one user's view of the world from raw facts:
// the chats they are in (annotated with participants, unread count and
// last activity, most recent first), a placeholder chat per other user with
// whom no private chat exists yet, and the user directory without the
// viewer. Pure and deterministic; recomputed on every fetch.
func AssembleDashboard(userID int, users []UserChat, chats []Chat, participants []ChatParticipant, messages []Message) DashboardView {
	participantsByChat := make(map[int][]ChatParticipant)
	for _, p := range participants {
		participantsByChat[p.ChatID] = append(participantsByChat[p.ChatID], p)
	}
	messagesByChat := make(map[int][]Message)
	for _, m := range messages {
		messagesByChat[m.ChatID] = append(messagesByChat[m.ChatID], m)
	}

	onGoing := make([]ChatDTO, 0)
	// Ids of users sharing a private chat with the viewer; they must not
	// reappear as off-going candidates.
	privateChatUserIDs := make(map[int]struct{})

	for _, c := range chats {
		chatParts := participantsByChat[c.ChatID]

		var viewer *ChatParticipant
		partIDs := make([]int, 0, len(chatParts))
		for i := range chatParts {
			partIDs = append(partIDs, chatParts[i].UserID)
			if chatParts[i].UserID == userID {
				viewer = &chatParts[i]
			}
		}
		if viewer == nil {
			continue
		}

		unread := 0
		for _, m := range messagesByChat[c.ChatID] {
			if m.SenderID != userID && m.SentAt.After(viewer.LastVisited) {
				unread++
			}
		}

		if !c.IsGroup {
			for _, id := range partIDs {
				if id != userID {
					privateChatUserIDs[id] = struct{}{}
				}
			}
		}

		id := c.ChatID
		updated := c.LastUpdated
		onGoing = append(onGoing, ChatDTO{
			ChatID:       &id,
			ChatName:     c.ChatName,
			LastUpdated:  &updated,
			Participants: partIDs,
			IsGroup:      c.IsGroup,
			UnreadCount:  unread,
		})
	}

	// Most recently active first; ties keep input order.
	sort.SliceStable(onGoing, func(i, j int) bool {
		return onGoing[i].LastUpdated.After(*onGoing[j].LastUpdated)
	})

	others := make([]UserChat, 0, len(users))
	offGoing := make([]ChatDTO, 0)
	for _, u := range users {
		if u.UserID == userID {
			continue
		}
		others = append(others, u)
		if _, ok := privateChatUserIDs[u.UserID]; ok {
			continue
		}
		offGoing = append(offGoing, ChatDTO{
			ChatName:     "",
			IsGroup:      false,
			Participants: []int{u.UserID, userID},
			UnreadCount:  0,
			LastUpdated:  nil,
		})
	}

	return DashboardView{
		OnGoingChats:  onGoing,
		OffGoingChats: offGoing,
		Users:         others,
	}
}
