package chat

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"teamup-messaging/internal/storage"
)

var errBroken = errors.New("connection reset")

// memRepo mimics the store: ids and timestamps are assigned under one lock, like a serial column
type memRepo struct {
	mu       sync.Mutex
	clock    time.Time
	users    map[int64]storage.User
	messages []storage.Message
	broken   bool

	offsets []int
}

func newMemRepo(userIDs ...int64) *memRepo {
	r := &memRepo{
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		users: make(map[int64]storage.User),
	}
	for _, id := range userIDs {
		r.users[id] = storage.User{ID: id, Username: "user" + string(rune('a'+id)), IsActive: true}
	}
	return r
}

func (r *memRepo) fail() error {
	if r.broken {
		return errBroken
	}
	return nil
}

func between(m storage.Message, a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func newestFirst(a, b storage.Message) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (r *memRepo) CreateMessage(_ context.Context, sender, receiver int64, content string) (storage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return storage.Message{}, err
	}
	if _, ok := r.users[sender]; !ok {
		return storage.Message{}, storage.ErrMessageBadSender
	}
	if _, ok := r.users[receiver]; !ok {
		return storage.Message{}, storage.ErrMessageBadReceiver
	}
	if sender == receiver {
		return storage.Message{}, storage.ErrMessageSelf
	}

	r.clock = r.clock.Add(time.Millisecond)
	m := storage.Message{
		ID:         int64(len(r.messages) + 1),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  r.clock,
	}
	r.messages = append(r.messages, m)
	return m, nil
}

func (r *memRepo) messagesBetween(a, b int64, limit, offset int) ([]storage.Message, int) {
	r.offsets = append(r.offsets, offset)

	var pair []storage.Message
	for _, m := range r.messages {
		if between(m, a, b) {
			pair = append(pair, m)
		}
	}
	slices.SortFunc(pair, newestFirst)

	total := len(pair)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]storage.Message{}, pair[offset:end]...), total
}

func (r *memRepo) MessagesBetween(_ context.Context, a, b int64, limit, offset int) ([]storage.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, 0, err
	}
	page, total := r.messagesBetween(a, b, limit, offset)
	return page, total, nil
}

func (r *memRepo) markRead(viewer, other int64) int64 {
	var n int64
	for i := range r.messages {
		m := &r.messages[i]
		if m.SenderID == other && m.ReceiverID == viewer && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n
}

func (r *memRepo) ReadConversation(_ context.Context, viewer, other int64, limit, offset int) ([]storage.Message, int, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, 0, 0, err
	}
	marked := r.markRead(viewer, other)
	page, total := r.messagesBetween(viewer, other, limit, offset)
	return page, total, marked, nil
}

func (r *memRepo) MarkReadFromSender(_ context.Context, viewer, other int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	return r.markRead(viewer, other), nil
}

func (r *memRepo) countUnread(match func(storage.Message) bool) int {
	n := 0
	for _, m := range r.messages {
		if !m.IsRead && match(m) {
			n++
		}
	}
	return n
}

func (r *memRepo) CountUnread(_ context.Context, user int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	return r.countUnread(func(m storage.Message) bool { return m.ReceiverID == user }), nil
}

func (r *memRepo) CountUnreadFrom(_ context.Context, viewer, other int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	return r.countUnread(func(m storage.Message) bool {
		return m.ReceiverID == viewer && m.SenderID == other
	}), nil
}

func (r *memRepo) distinct(pick func(storage.Message) (int64, bool)) []int64 {
	var ids []int64
	for _, m := range r.messages {
		if id, ok := pick(m); ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *memRepo) Recipients(_ context.Context, user int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	return r.distinct(func(m storage.Message) (int64, bool) { return m.ReceiverID, m.SenderID == user }), nil
}

func (r *memRepo) Senders(_ context.Context, user int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	return r.distinct(func(m storage.Message) (int64, bool) { return m.SenderID, m.ReceiverID == user }), nil
}

func (r *memRepo) LastMessageBetween(_ context.Context, a, b int64) (storage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return storage.Message{}, err
	}
	page, _ := r.messagesBetween(a, b, 1, 0)
	if len(page) == 0 {
		return storage.Message{}, storage.ErrMessageNotExist
	}
	return page[0], nil
}

func (r *memRepo) UserByID(_ context.Context, id int64) (storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return storage.User{}, err
	}
	u, ok := r.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return u, nil
}

func (r *memRepo) SearchUsers(_ context.Context, exclude int64, query string, limit int) ([]storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	users := make([]storage.User, 0)
	for _, u := range r.users {
		if u.ID != exclude && u.IsActive && strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) {
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b storage.User) int { return strings.Compare(a.Username, b.Username) })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
