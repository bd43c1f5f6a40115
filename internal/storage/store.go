package storage

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"teamup-messaging/internal/storage/zapadapter"
)

var (
	ErrUserNotExist       = errors.New("user does not exist")
	ErrUserExists         = errors.New("user already exists")
	ErrMessageNotExist    = errors.New("message does not exist")
	ErrMessageBadSender   = errors.New("bad sender id")
	ErrMessageBadReceiver = errors.New("bad receiver id")
	ErrMessageSelf        = errors.New("sender and receiver are the same user")
	ErrMessageBlank       = errors.New("message content is blank")
)

//go:embed schema.sql
var schema string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so queries can run inside or outside a transaction
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	MaxConns(cfg.MaxConns).apply(config)
	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// Ping checks that a pooled connection can run a statement
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "select 1")
	return err
}

// Migrate creates tables and indexes when they do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("Applying schema")
	_, err := s.db.Exec(ctx, schema)
	return err
}

// withTx runs fn inside a transaction. The transaction is committed only when fn returns nil,
// every other exit path rolls it back.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateUser creates an active user and returns its id.
func (s *Store) CreateUser(ctx context.Context, username, fullName string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	var id int64
	sql := "insert into users (username, full_name) values ($1, nullif($2, '')) returning id"
	err := s.db.QueryRow(ctx, sql, username, fullName).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrUserExists
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// DeactivateUser hides the user from search results
func (s *Store) DeactivateUser(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "update users set is_active = false where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

const userColumns = "id, username, full_name, avatar_url, bio, is_active, created_at"

func scanUser(row pgx.Row, u *User) error {
	var fullName, avatarURL, bio pgtype.Text
	err := row.Scan(&u.ID, &u.Username, &fullName, &avatarURL, &bio, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return err
	}

	u.FullName = textOrEmpty(fullName)
	u.AvatarURL = textOrEmpty(avatarURL)
	u.Bio = textOrEmpty(bio)

	return nil
}

func textOrEmpty(t pgtype.Text) string {
	if t.Status != pgtype.Present {
		return ""
	}
	return t.String
}

// UserByID returns the user with provided id or ErrUserNotExist
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	sql := "select " + userColumns + " from users where id = $1"
	err := scanUser(s.db.QueryRow(ctx, sql, id), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return u, nil
}

// UserByUsername returns the user with provided username or ErrUserNotExist
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	sql := "select " + userColumns + " from users where username = $1"
	err := scanUser(s.db.QueryRow(ctx, sql, username), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchUsers returns at most limit active users, except the one with id exclude,
// whose username or full name contains query (case-insensitive)
func (s *Store) SearchUsers(ctx context.Context, exclude int64, query string, limit int) ([]User, error) {
	s.logger.Debugf("Searching users matching (%s)", query)

	pattern := "%" + likeEscaper.Replace(query) + "%"
	sql := `select ` + userColumns + `
			  from users
			 where (username ilike $2 or full_name ilike $2)
			   and id <> $1
			   and is_active
			 order by username
			 limit $3`

	rows, err := s.db.Query(ctx, sql, exclude, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := scanUser(rows, &u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

const messageColumns = "id, sender_id, receiver_id, content, is_read, created_at"

func scanMessage(row pgx.Row, m *Message) error {
	return row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt)
}

// CreateMessage inserts an unread message and returns the stored record with its id and creation time
func (s *Store) CreateMessage(ctx context.Context, sender, receiver int64, content string) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) to user (id: %d)", sender, receiver)

	var m Message
	sql := "insert into messages (sender_id, receiver_id, content) values ($1, $2, $3) returning " + messageColumns
	err := scanMessage(s.db.QueryRow(ctx, sql, sender, receiver, content), &m)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				switch pgErr.ConstraintName {
				case "messages_sender_id_fkey":
					return Message{}, ErrMessageBadSender
				case "messages_receiver_id_fkey":
					return Message{}, ErrMessageBadReceiver
				}
			case pgerrcode.CheckViolation:
				switch pgErr.ConstraintName {
				case "messages_not_self":
					return Message{}, ErrMessageSelf
				case "messages_content_not_blank":
					return Message{}, ErrMessageBlank
				}
			}
		}
		return Message{}, err
	}

	s.logger.Debugf("Created message with id %d", m.ID)

	return m, nil
}

// MessagesBetween returns one page of messages exchanged by a and b ordered from newest to oldest
// together with the total number of messages between them
func (s *Store) MessagesBetween(ctx context.Context, a, b int64, limit, offset int) ([]Message, int, error) {
	return messagesBetween(ctx, s.db, a, b, limit, offset)
}

func messagesBetween(ctx context.Context, q dbtx, a, b int64, limit, offset int) ([]Message, int, error) {
	pair := `(sender_id = $1 and receiver_id = $2) or (sender_id = $2 and receiver_id = $1)`

	var total int
	err := q.QueryRow(ctx, "select count(*) from messages where "+pair, a, b).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	sql := `select ` + messageColumns + `
			  from messages
			 where ` + pair + `
			 order by created_at desc, id desc
			 limit $3 offset $4`

	rows, err := q.Query(ctx, sql, a, b, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkReadFromSender flips every unread message sent by other to viewer in a single statement
// and returns the number of messages changed
func (s *Store) MarkReadFromSender(ctx context.Context, viewer, other int64) (int64, error) {
	return markReadFromSender(ctx, s.db, viewer, other)
}

func markReadFromSender(ctx context.Context, q dbtx, viewer, other int64) (int64, error) {
	sql := `update messages
			   set is_read = true
			 where sender_id = $1
			   and receiver_id = $2
			   and is_read = false`

	tag, err := q.Exec(ctx, sql, other, viewer)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// ReadConversation is the viewing path of a conversation: inside one transaction it marks messages
// from other as read and returns the requested page (newest to oldest), the total count and
// the number of messages marked read
func (s *Store) ReadConversation(ctx context.Context, viewer, other int64, limit, offset int) ([]Message, int, int64, error) {
	s.logger.Debugf("Reading conversation of user (id: %d) with user (id: %d)", viewer, other)

	var (
		messages []Message
		total    int
		marked   int64
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		marked, err = markReadFromSender(ctx, tx, viewer, other)
		if err != nil {
			return err
		}

		messages, total, err = messagesBetween(ctx, tx, viewer, other, limit, offset)
		return err
	})
	if err != nil {
		return nil, 0, 0, err
	}

	s.logger.Debugf("Retrieved %d of %d messages, %d marked read", len(messages), total, marked)

	return messages, total, marked, nil
}

// CountUnread returns the number of unread messages addressed to user
func (s *Store) CountUnread(ctx context.Context, user int64) (int, error) {
	var n int
	sql := "select count(*) from messages where receiver_id = $1 and is_read = false"
	err := s.db.QueryRow(ctx, sql, user).Scan(&n)
	return n, err
}

// CountUnreadFrom returns the number of unread messages sent by other to viewer
func (s *Store) CountUnreadFrom(ctx context.Context, viewer, other int64) (int, error) {
	var n int
	sql := "select count(*) from messages where receiver_id = $1 and sender_id = $2 and is_read = false"
	err := s.db.QueryRow(ctx, sql, viewer, other).Scan(&n)
	return n, err
}

// Recipients returns distinct ids of users that received at least one message from user
func (s *Store) Recipients(ctx context.Context, user int64) ([]int64, error) {
	return s.distinctIDs(ctx, "select distinct receiver_id from messages where sender_id = $1", user)
}

// Senders returns distinct ids of users that sent at least one message to user
func (s *Store) Senders(ctx context.Context, user int64) ([]int64, error) {
	return s.distinctIDs(ctx, "select distinct sender_id from messages where receiver_id = $1", user)
}

func (s *Store) distinctIDs(ctx context.Context, sql string, user int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// LastMessageBetween returns the most recent message exchanged by a and b or ErrMessageNotExist
func (s *Store) LastMessageBetween(ctx context.Context, a, b int64) (Message, error) {
	sql := `select ` + messageColumns + `
			  from messages
			 where (sender_id = $1 and receiver_id = $2) or (sender_id = $2 and receiver_id = $1)
			 order by created_at desc, id desc
			 limit 1`

	var m Message
	err := scanMessage(s.db.QueryRow(ctx, sql, a, b), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}

	return m, nil
}
