package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"teamup-messaging/internal/chat"
	"teamup-messaging/internal/identity"
	"teamup-messaging/internal/storage"
	"teamup-messaging/internal/storage/zapadapter"
)

// ChatService is the messaging API behind the HTTP routes; *chat.Service implements it
type ChatService interface {
	Send(ctx context.Context, sender, receiver int64, content string) (storage.Message, error)
	History(ctx context.Context, viewer, other int64, page, perPage int) ([]storage.Message, chat.Pagination, error)
	CountUnreadFor(ctx context.Context, user int64) (int, error)
	ListConversations(ctx context.Context, user int64) ([]chat.Conversation, error)
	SearchUsers(ctx context.Context, caller int64, query string) ([]storage.User, error)
}

// Authenticator resolves a request credential; *identity.Resolver implements it
type Authenticator interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

// Publisher pushes stored messages to the real-time channel; *realtime.Bus implements it
type Publisher interface {
	PublishMessage(m storage.Message) int
}

// Pinger checks the store is reachable; *storage.Store implements it
type Pinger interface {
	Ping(ctx context.Context) error
}

type handler struct {
	logger *zap.SugaredLogger
	chat   ChatService
	bus    Publisher
	store  Pinger

	createMessagePool fastjson.ParserPool
}

// messageView is a message as seen by one of its participants
type messageView struct {
	storage.Message
	IsOwn bool `json:"is_own"`
}

func newMessageViews(messages []storage.Message, viewer int64) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{Message: m, IsOwn: m.SenderID == viewer})
	}
	return views
}

type historyResponse struct {
	Messages   []messageView   `json:"messages"`
	Pagination chat.Pagination `json:"pagination"`
}

type unreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// caller returns the authenticated identity; routes are only reachable through authenticate
func caller(r *http.Request) identity.Identity {
	user, _ := identity.FromContext(r.Context())
	return user
}

// conversations handles HTTP requests on "/conversations" endpoint
func (h *handler) conversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chat.ListConversations(r.Context(), caller(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, conversations)
}

// history handles HTTP requests on "/messages/{otherUserId}" endpoint
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	other, err := strconv.ParseInt(r.PathValue("otherUserId"), 10, 64)
	if err != nil || other < 1 {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", chat.DefaultPerPage)

	user := caller(r)
	messages, pagination, err := h.chat.History(r.Context(), user.ID, other, page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, historyResponse{
		Messages:   newMessageViews(messages, user.ID),
		Pagination: pagination,
	})
}

// createMessage handles HTTP requests on "/messages" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.createMessagePool.Get()
	defer h.createMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	// retrieving receiver id
	if !v.Exists("receiver_id") {
		writeError(w, http.StatusBadRequest, `Missing Field "receiver_id"`)
		return
	}

	receiverID, err := v.Get("receiver_id").Int64()
	if err != nil {
		writeError(w, http.StatusBadRequest, `Field "receiver_id" must be a 64-bit integer value`)
		return
	}

	if receiverID < 1 {
		writeError(w, http.StatusBadRequest, `Field "receiver_id" must be a valid user id greater than zero`)
		return
	}

	// retrieving content
	if !v.Exists("content") {
		writeError(w, http.StatusBadRequest, `Missing Field "content"`)
		return
	}

	contentValue := v.Get("content")
	if contentValue.Type() != fastjson.TypeString {
		writeError(w, http.StatusBadRequest, `Field "content" must be a string`)
		return
	}
	content := string(contentValue.GetStringBytes())

	user := caller(r)
	m, err := h.chat.Send(r.Context(), user.ID, receiverID, content)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.bus != nil {
		h.bus.PublishMessage(m)
	}

	h.writeJSON(w, r, http.StatusCreated, messageView{Message: m, IsOwn: true})
}

// searchUsers handles HTTP requests on "/users/search" endpoint
func (h *handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.chat.SearchUsers(r.Context(), caller(r).ID, r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, users)
}

// unreadCount handles HTTP requests on "/unread-count" endpoint
func (h *handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.chat.CountUnreadFor(r.Context(), caller(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, unreadResponse{UnreadCount: n})
}

// health handles HTTP requests on "/health" endpoint
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		zapadapter.WithRequestID(r.Context(), h.logger).Errorf("Health check failed: %v", err)
		h.writeJSON(w, r, http.StatusInternalServerError, healthResponse{Status: "unhealthy", Database: "disconnected"})
		return
	}

	h.writeJSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}

// notFound answers every unknown path
func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Resource not found")
}

// fail maps the error taxonomy of the messaging operations to a response
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		writeError(w, http.StatusBadRequest, reason(err, chat.ErrValidation))
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, reason(err, chat.ErrNotFound))
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	default:
		zapadapter.WithRequestID(r.Context(), h.logger).Error(err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// reason strips the sentinel prefix off a wrapped error message
func reason(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

func (h *handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		zapadapter.WithRequestID(r.Context(), h.logger).Error(err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		zapadapter.WithRequestID(r.Context(), h.logger).Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	payload, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{msg})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// queryInt returns the integer query parameter key, or def when it is absent or not an integer
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}
