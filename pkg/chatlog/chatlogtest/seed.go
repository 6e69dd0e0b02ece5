// Package chatlogtest provides a small fixed conversation for tests.
package chatlogtest

import (
	"strconv"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

var texts = []string{"good morning", "hello there", "lunch?", "sure", "hello again", "see you", "bye", "later"}

// Conversation returns messages "1".."8" in chronological order, alternating
// between Alice and Bob. "hello" matches ids 2 and 5.
func Conversation() []chatlog.Message {
	out := make([]chatlog.Message, 0, len(texts))
	for i, text := range texts {
		out = append(out, chatlog.Message{
			ID:        strconv.Itoa(i + 1),
			CreatedAt: int64(100 * (i + 1)),
			UserID:    "u" + strconv.Itoa(i%2),
			GroupID:   "g1",
			Name:      []string{"Alice", "Bob"}[i%2],
			Text:      text,
		})
	}
	return out
}

// IDs lists the ids of ms in order.
func IDs(ms []chatlog.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
