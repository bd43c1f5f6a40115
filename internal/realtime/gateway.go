package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"teamup-messaging/internal/identity"
	"teamup-messaging/internal/storage"
	"teamup-messaging/internal/storage/zapadapter"
)

const sendTimeout = 5 * time.Second

// Sender persists a message; *chat.Service implements it
type Sender interface {
	Send(ctx context.Context, sender, receiver int64, content string) (storage.Message, error)
}

// Gateway serves the websocket endpoint of the real-time channel. Inbound events are handled in
// arrival order per connection. Invalid events are logged and dropped, the channel never answers
// with errors.
type Gateway struct {
	logger   *zap.SugaredLogger
	registry *Registry
	bus      *Bus
	sender   Sender
	upgrader websocket.Upgrader
	parsers  fastjson.ParserPool
}

type GatewayOption interface {
	apply(*Gateway)
}

type gatewayOptionFunc func(g *Gateway)

func (f gatewayOptionFunc) apply(g *Gateway) { f(g) }

// AllowOrigins sets the browser origins allowed to open the channel, "*" allows any origin.
// Without it only same-origin requests and clients sending no Origin header are accepted.
func AllowOrigins(origins ...string) GatewayOption {
	return gatewayOptionFunc(func(g *Gateway) {
		g.upgrader.CheckOrigin = checkOrigin(origins)
	})
}

// NewGateway returns Gateway joining connections in registry and publishing through bus
func NewGateway(logger *zap.SugaredLogger, registry *Registry, bus *Bus, sender Sender, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		logger:   logger,
		registry: registry,
		bus:      bus,
		sender:   sender,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(nil),
		},
	}

	for _, opt := range opts {
		opt.apply(g)
	}

	return g
}

// checkOrigin matches the Origin header against allowed, falling back to a same-origin check
// when allowed is empty
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		if len(allowed) == 0 {
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		}

		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades an authenticated request and processes frames until the client goes away.
// The caller identity must already be in the request context.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	logger := zapadapter.WithRequestID(r.Context(), g.logger)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		logger.Debugf("Websocket upgrade: %v", err)
		return
	}

	conn := NewConnection(user, ws)
	conn.Start()
	logger.Infof("User (id: %d) connected as %s", user.ID, conn.ID())

	defer func() {
		g.registry.Disconnect(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
		logger.Infof("User (id: %d) disconnected %s", user.ID, conn.ID())
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				logger.Debugf("Reading from %s: %v", conn.ID(), err)
			}
			return
		}

		g.handle(r.Context(), conn, user, frame)
	}
}

// handle decodes and dispatches one frame received from m, which belongs to user
func (g *Gateway) handle(ctx context.Context, m Member, user identity.Identity, frame []byte) {
	logger := zapadapter.WithRequestID(ctx, g.logger)

	p := g.parsers.Get()
	ev, err := decodeEvent(p, frame)
	g.parsers.Put(p)
	if err != nil {
		logger.Debugf("Dropping frame from %s: %v", m.ID(), err)
		return
	}

	if ev.Actor() != user.ID {
		logger.Warnf("Dropping %s from %s: claims user %d, authenticated as %d", ev.Name(), m.ID(), ev.Actor(), user.ID)
		return
	}

	switch ev := ev.(type) {
	case JoinChat:
		room, err := RoomFor(ev.UserID, ev.OtherUserID)
		if err != nil {
			logger.Debugf("Dropping %s from %s: %v", ev.Name(), m.ID(), err)
			return
		}
		g.registry.Join(m, room)
		logger.Infof("User (id: %d) joined chat room %s", user.ID, room)

	case LeaveChat:
		room, err := RoomFor(ev.UserID, ev.OtherUserID)
		if err != nil {
			logger.Debugf("Dropping %s from %s: %v", ev.Name(), m.ID(), err)
			return
		}
		g.registry.Leave(m, room)
		logger.Infof("User (id: %d) left chat room %s", user.ID, room)

	case SendMessage:
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		msg, err := g.sender.Send(ctx, ev.SenderID, ev.ReceiverID, ev.Content)
		if err != nil {
			logger.Warnf("Dropping %s from %s: %v", ev.Name(), m.ID(), err)
			return
		}
		g.bus.PublishMessage(msg)
		logger.Infof("Message sent from %d to %d", msg.SenderID, msg.ReceiverID)

	case Typing:
		g.bus.PublishTyping(m, ev.UserID, ev.OtherUserID, ev.IsTyping)
	}
}
