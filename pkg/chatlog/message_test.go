package chatlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageLine(t *testing.T) {
	m := Message{ID: "1", Name: "A", Text: "hi"}
	require.Equal(t, "A: hi", m.Line())
}

func TestLessOrdersByTimeThenID(t *testing.T) {
	require.True(t, Less(Message{ID: "9", CreatedAt: 1}, Message{ID: "1", CreatedAt: 2}))
	require.True(t, Less(Message{ID: "1", CreatedAt: 2}, Message{ID: "2", CreatedAt: 2}))
	require.False(t, Less(Message{ID: "2", CreatedAt: 2}, Message{ID: "2", CreatedAt: 2}))
}

func TestWindowMessages(t *testing.T) {
	w := Window{
		BeforeMessages: []Message{{ID: "3"}, {ID: "4"}},
		Message:        Message{ID: "5"},
		AfterMessages:  []Message{{ID: "6"}},
	}
	ids := []string{}
	for _, m := range w.Messages() {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"3", "4", "5", "6"}, ids)
	require.Equal(t, 4, w.Len())
}

func TestWindowJSONShape(t *testing.T) {
	raw := `{"before_messages":[{"id":"1","name":"A","text":"x"}],"message":{"id":"2","name":"B","text":"y"},"after_messages":[]}`
	var w Window
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	require.Len(t, w.BeforeMessages, 1)
	require.Equal(t, "B: y", w.Message.Line())
	require.Empty(t, w.AfterMessages)
}
