package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// InMemoryMessageStore keeps messages in chronological order in memory.
// It mirrors the ordering semantics of the SQLite store; search is a
// case-insensitive all-terms substring match, newest first.
type InMemoryMessageStore struct {
	mu      sync.RWMutex
	ordered []chatlog.Message
	index   map[string]int
}

var _ MessageStore = &InMemoryMessageStore{}

func NewInMemoryMessageStore(ms ...chatlog.Message) *InMemoryMessageStore {
	s := &InMemoryMessageStore{index: map[string]int{}}
	_ = s.SaveMessages(context.Background(), ms)
	return s
}

func (s *InMemoryMessageStore) Close() error { return nil }

func (s *InMemoryMessageStore) SaveMessage(ctx context.Context, m chatlog.Message) error {
	return s.SaveMessages(ctx, []chatlog.Message{m})
}

func (s *InMemoryMessageStore) SaveMessages(_ context.Context, ms []chatlog.Message) error {
	if s == nil {
		return errors.New("in-memory message store: nil store")
	}
	for _, m := range ms {
		if err := validateMessage(m); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		m.LikeCount = len(m.FavoritedBy)
		if i, ok := s.index[m.ID]; ok {
			s.ordered[i] = m
			continue
		}
		s.ordered = append(s.ordered, m)
		s.index[m.ID] = len(s.ordered) - 1
	}
	sort.SliceStable(s.ordered, func(i, j int) bool { return chatlog.Less(s.ordered[i], s.ordered[j]) })
	for i, m := range s.ordered {
		s.index[m.ID] = i
	}
	return nil
}

func (s *InMemoryMessageStore) GetMessage(_ context.Context, id string) (chatlog.Message, error) {
	if s == nil {
		return chatlog.Message{}, errors.New("in-memory message store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.positionLocked(id)
	if err != nil {
		return chatlog.Message{}, err
	}
	return s.ordered[i], nil
}

func (s *InMemoryMessageStore) Search(_ context.Context, query string, limit int) ([]chatlog.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory message store: nil store")
	}
	limit = normalizeLimit(limit, DefaultSearchLimit)
	terms := lo.Map(searchTerms(query), func(t string, _ int) string { return strings.ToLower(t) })
	if len(terms) == 0 {
		return []chatlog.Message{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chatlog.Message, 0, limit)
	for i := len(s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.ordered[i]
		haystack := strings.ToLower(m.Name + "\n" + m.Text)
		if lo.EveryBy(terms, func(t string) bool { return strings.Contains(haystack, t) }) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryMessageStore) Window(_ context.Context, id string, before, after int) (chatlog.Window, error) {
	if s == nil {
		return chatlog.Window{}, errors.New("in-memory message store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.positionLocked(id)
	if err != nil {
		return chatlog.Window{}, err
	}
	older := s.pageLocked(i, windowSide(before), false)
	return chatlog.Window{
		BeforeMessages: lo.Reverse(older),
		Message:        s.ordered[i],
		AfterMessages:  s.pageLocked(i, windowSide(after), true),
	}, nil
}

func (s *InMemoryMessageStore) Before(_ context.Context, id string, limit int) ([]chatlog.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory message store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.positionLocked(id)
	if err != nil {
		return nil, err
	}
	return s.pageLocked(i, normalizeLimit(limit, DefaultPageLimit), false), nil
}

func (s *InMemoryMessageStore) After(_ context.Context, id string, limit int) ([]chatlog.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory message store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.positionLocked(id)
	if err != nil {
		return nil, err
	}
	return s.pageLocked(i, normalizeLimit(limit, DefaultPageLimit), true), nil
}

func (s *InMemoryMessageStore) Count(_ context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory message store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered), nil
}

func (s *InMemoryMessageStore) positionLocked(id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, chatlog.ErrEmptyID
	}
	i, ok := s.index[id]
	if !ok {
		return 0, errors.Wrapf(chatlog.ErrNotFound, "message %s", id)
	}
	return i, nil
}

// pageLocked returns up to limit neighbours of position i, nearest first.
func (s *InMemoryMessageStore) pageLocked(i, limit int, forward bool) []chatlog.Message {
	out := make([]chatlog.Message, 0, limit)
	if forward {
		for j := i + 1; j < len(s.ordered) && len(out) < limit; j++ {
			out = append(out, s.ordered[j])
		}
		return out
	}
	for j := i - 1; j >= 0 && len(out) < limit; j-- {
		out = append(out, s.ordered[j])
	}
	return out
}
