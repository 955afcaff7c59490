package message

import "sort"

// Conversation groups every message exchanged with one counterpart.
type Conversation struct {
	Counterpart Participant
	Messages    []Message // ascending by Timestamp
	LastMessage *Message  // nil only for a placeholder
	Unread      int       // incoming messages not marked read
}

// Placeholder returns an empty conversation for a counterpart with no
// history yet. It becomes real once a message with p is stored.
func Placeholder(p Participant) Conversation {
	return Conversation{Counterpart: p}
}

// IsPlaceholder reports whether c has no messages.
func (c Conversation) IsPlaceholder() bool {
	return c.LastMessage == nil
}

// BuildConversations partitions msgs by counterpart relative to self.
//
// Messages inside a conversation are sorted by timestamp with ties kept in
// input order. Conversations are ordered by their last message, newest
// first, ties broken by counterpart id. The result shares no memory with
// msgs and depends on nothing but its arguments.
func BuildConversations(self int64, msgs []Message) []Conversation {
	index := make(map[int64]int)
	var convs []Conversation

	for _, m := range msgs {
		p := m.Counterpart(self)
		i, ok := index[p.ID]
		if !ok {
			i = len(convs)
			index[p.ID] = i
			convs = append(convs, Conversation{Counterpart: Participant{ID: p.ID}})
		}
		convs[i].Messages = append(convs[i].Messages, m)
	}

	for i := range convs {
		c := &convs[i]
		sort.SliceStable(c.Messages, func(a, b int) bool {
			return c.Messages[a].Timestamp.Before(c.Messages[b].Timestamp)
		})
		last := c.Messages[len(c.Messages)-1]
		c.LastMessage = &last
		c.Counterpart.Name = counterpartName(self, c.Messages)
		for _, m := range c.Messages {
			if m.RecipientID == self && !m.Read {
				c.Unread++
			}
		}
	}

	sort.SliceStable(convs, func(a, b int) bool {
		ta, tb := convs[a].LastMessage.Timestamp, convs[b].LastMessage.Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return convs[a].Counterpart.ID < convs[b].Counterpart.ID
	})
	return convs
}

// counterpartName picks the newest non-empty name the messages carry for
// the other side.
func counterpartName(self int64, msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if name := msgs[i].Counterpart(self).Name; name != "" {
			return name
		}
	}
	return ""
}

// FindConversation returns the conversation with counterpartID, if any.
func FindConversation(convs []Conversation, counterpartID int64) (Conversation, bool) {
	for _, c := range convs {
		if c.Counterpart.ID == counterpartID {
			return c, true
		}
	}
	return Conversation{}, false
}

// OpenConversation returns the existing conversation with p or a
// placeholder for it.
func OpenConversation(convs []Conversation, p Participant) Conversation {
	if c, ok := FindConversation(convs, p.ID); ok {
		return c
	}
	return Placeholder(p)
}
