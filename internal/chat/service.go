// Package chat implements direct messaging between two users: sending, paginated history with
// read tracking, unread counters and the per-user conversation list.
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamup-messaging/internal/storage"
	"teamup-messaging/internal/storage/zapadapter"
)

// SearchLimit is the maximum number of users returned by SearchUsers
const SearchLimit = 10

// Repository is the persistence the service needs; *storage.Store implements it
type Repository interface {
	CreateMessage(ctx context.Context, sender, receiver int64, content string) (storage.Message, error)
	MessagesBetween(ctx context.Context, a, b int64, limit, offset int) ([]storage.Message, int, error)
	ReadConversation(ctx context.Context, viewer, other int64, limit, offset int) ([]storage.Message, int, int64, error)
	MarkReadFromSender(ctx context.Context, viewer, other int64) (int64, error)
	CountUnread(ctx context.Context, user int64) (int, error)
	CountUnreadFrom(ctx context.Context, viewer, other int64) (int, error)
	Recipients(ctx context.Context, user int64) ([]int64, error)
	Senders(ctx context.Context, user int64) ([]int64, error)
	LastMessageBetween(ctx context.Context, a, b int64) (storage.Message, error)
	UserByID(ctx context.Context, id int64) (storage.User, error)
	SearchUsers(ctx context.Context, exclude int64, query string, limit int) ([]storage.User, error)
}

// Conversation is the inbox entry of one counterparty
type Conversation struct {
	User        storage.User    `json:"user"`
	LastMessage storage.Message `json:"last_message"`
	UnreadCount int             `json:"unread_count"`
}

// Service defines fields used by messaging operations
type Service struct {
	logger *zap.SugaredLogger
	repo   Repository
}

// NewService returns new Service with provided zap.SugaredLogger and Repository
func NewService(logger *zap.SugaredLogger, repo Repository) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
	}
}

// persistence logs err and hides it behind ErrPersistence
func (s *Service) persistence(ctx context.Context, op string, err error) error {
	zapadapter.WithRequestID(ctx, s.logger).Errorf("%s: %v", op, err)
	return fmt.Errorf("%w: %s", ErrPersistence, op)
}

// Send stores a new unread message from sender to receiver
func (s *Service) Send(ctx context.Context, sender, receiver int64, content string) (storage.Message, error) {
	if receiver < 1 {
		return storage.Message{}, fmt.Errorf("%w: receiver id is required", ErrValidation)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return storage.Message{}, fmt.Errorf("%w: content is required", ErrValidation)
	}

	if sender == receiver {
		return storage.Message{}, fmt.Errorf("%w: cannot send message to yourself", ErrValidation)
	}

	m, err := s.repo.CreateMessage(ctx, sender, receiver, content)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageBadReceiver):
			return storage.Message{}, fmt.Errorf("%w: receiver not found", ErrValidation)
		case errors.Is(err, storage.ErrMessageSelf):
			return storage.Message{}, fmt.Errorf("%w: cannot send message to yourself", ErrValidation)
		case errors.Is(err, storage.ErrMessageBlank):
			return storage.Message{}, fmt.Errorf("%w: content is required", ErrValidation)
		default:
			return storage.Message{}, s.persistence(ctx, "create message", err)
		}
	}

	return m, nil
}

// ListBetween returns one page of messages exchanged by a and b, ordered from oldest to newest.
// It does not change read state.
func (s *Service) ListBetween(ctx context.Context, a, b int64, page, perPage int) ([]storage.Message, Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	messages, total, err := s.repo.MessagesBetween(ctx, a, b, perPage, (page-1)*perPage)
	if err != nil {
		return nil, Pagination{}, s.persistence(ctx, "list messages", err)
	}

	slices.Reverse(messages)

	return messages, newPagination(page, perPage, total), nil
}

// History is ListBetween as seen by viewer: messages sent by other to viewer are marked read
// in the same transaction. Returns ErrNotFound when other does not exist.
func (s *Service) History(ctx context.Context, viewer, other int64, page, perPage int) ([]storage.Message, Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	if _, err := s.repo.UserByID(ctx, other); err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return nil, Pagination{}, fmt.Errorf("%w: user %d", ErrNotFound, other)
		}
		return nil, Pagination{}, s.persistence(ctx, "get user", err)
	}

	messages, total, marked, err := s.repo.ReadConversation(ctx, viewer, other, perPage, (page-1)*perPage)
	if err != nil {
		return nil, Pagination{}, s.persistence(ctx, "read conversation", err)
	}

	if marked > 0 {
		s.logger.Debugf("User (id: %d) read %d messages from user (id: %d)", viewer, marked, other)
	}

	slices.Reverse(messages)

	return messages, newPagination(page, perPage, total), nil
}

// MarkReadFromSender marks every unread message from other to viewer as read and returns how many changed
func (s *Service) MarkReadFromSender(ctx context.Context, viewer, other int64) (int64, error) {
	n, err := s.repo.MarkReadFromSender(ctx, viewer, other)
	if err != nil {
		return 0, s.persistence(ctx, "mark read", err)
	}
	return n, nil
}

// CountUnreadFor returns the number of unread messages addressed to user
func (s *Service) CountUnreadFor(ctx context.Context, user int64) (int, error) {
	n, err := s.repo.CountUnread(ctx, user)
	if err != nil {
		return 0, s.persistence(ctx, "count unread", err)
	}
	return n, nil
}

// ListConversations returns one Conversation per counterparty of user, most recent last message first
func (s *Service) ListConversations(ctx context.Context, user int64) ([]Conversation, error) {
	recipients, err := s.repo.Recipients(ctx, user)
	if err != nil {
		return nil, s.persistence(ctx, "list recipients", err)
	}

	senders, err := s.repo.Senders(ctx, user)
	if err != nil {
		return nil, s.persistence(ctx, "list senders", err)
	}

	counterparties := lo.Without(lo.Union(recipients, senders), user)

	conversations := make([]Conversation, 0, len(counterparties))
	for _, other := range counterparties {
		last, err := s.repo.LastMessageBetween(ctx, user, other)
		if err != nil {
			if errors.Is(err, storage.ErrMessageNotExist) {
				continue
			}
			return nil, s.persistence(ctx, "get last message", err)
		}

		profile, err := s.repo.UserByID(ctx, other)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotExist) {
				continue
			}
			return nil, s.persistence(ctx, "get user", err)
		}

		unread, err := s.repo.CountUnreadFrom(ctx, user, other)
		if err != nil {
			return nil, s.persistence(ctx, "count unread", err)
		}

		conversations = append(conversations, Conversation{
			User:        profile,
			LastMessage: last,
			UnreadCount: unread,
		})
	}

	slices.SortFunc(conversations, func(a, b Conversation) int {
		if c := b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.LastMessage.ID, a.LastMessage.ID)
	})

	return conversations, nil
}

// SearchUsers returns up to SearchLimit active users except caller matching query.
// Blank query gives an empty result.
func (s *Service) SearchUsers(ctx context.Context, caller int64, query string) ([]storage.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []storage.User{}, nil
	}

	users, err := s.repo.SearchUsers(ctx, caller, query, SearchLimit)
	if err != nil {
		return nil, s.persistence(ctx, "search users", err)
	}
	return users, nil
}
