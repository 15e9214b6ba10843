// Package session is the application layer of the realtime gateway. It
// owns the lifecycle of an authenticated client connection: admission,
// room membership, message dispatch, presence edges, and the delivery
// side effects (fanout, notifications) of each client event.
package session

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/admitboard/realtime/internal/auth"
	"github.com/admitboard/realtime/internal/metrics"
	"github.com/admitboard/realtime/internal/moderation"
	"github.com/admitboard/realtime/internal/notification"
	"github.com/admitboard/realtime/internal/presence"
	"github.com/admitboard/realtime/internal/protocol"
	"github.com/admitboard/realtime/internal/room"
	"github.com/admitboard/realtime/internal/storage"
	"github.com/admitboard/realtime/internal/ws"
)

// Conn is the transport-level handle for one client socket.
type Conn interface {
	room.Handle
	User() string
}

// ConversationStore reads conversation membership.
type ConversationStore interface {
	GetConversations(ctx context.Context, userID string) ([]storage.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// MessageStore persists messages and read cursors.
type MessageStore interface {
	Save(ctx context.Context, msg *storage.Message) error
	MarkAsRead(ctx context.Context, conversationID, userID string) (time.Time, error)
}

// UserStore resolves display names for notification rendering.
type UserStore interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Notifier creates stored notifications for offline recipients.
type Notifier interface {
	Create(ctx context.Context, userID, kind string, p notification.Params) (*notification.Notification, error)
}

// Moderator evaluates outbound message content.
type Moderator interface {
	Evaluate(ctx context.Context, userID, content string) moderation.Decision
}

// TokenVerifier validates a bearer token and returns the user behind it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Admitter decides whether a user may connect at all.
type Admitter interface {
	Admit(ctx context.Context, userID string) (bool, error)
}

// Gateway wires the transport to the domain: it authenticates upgrade
// requests, reacts to connect/disconnect edges, and dispatches parsed
// client messages to their handlers.
type Gateway struct {
	router   *room.Router
	fanout   *Fanout
	presence *presence.Registry
	moderate Moderator
	convs    ConversationStore
	msgs     MessageStore
	users    UserStore
	notifs   Notifier
	verifier TokenVerifier
	guard    Admitter
	buffer   *MessageBuffer

	// retryAfter reports seconds until the user's message-rate window
	// resets; wired to the limiter in main. May be nil in tests.
	retryAfter func(ctx context.Context, userID string) int
}

// GatewayDeps carries the collaborators a Gateway needs.
type GatewayDeps struct {
	Router        *room.Router
	Fanout        *Fanout
	Presence      *presence.Registry
	Moderator     Moderator
	Conversations ConversationStore
	Messages      MessageStore
	Users         UserStore
	Notifier      Notifier
	Verifier      TokenVerifier
	Guard         Admitter
	RetryAfter    func(ctx context.Context, userID string) int
}

// NewGateway creates a Gateway from its dependencies.
func NewGateway(deps GatewayDeps) *Gateway {
	return &Gateway{
		router:     deps.Router,
		fanout:     deps.Fanout,
		presence:   deps.Presence,
		moderate:   deps.Moderator,
		convs:      deps.Conversations,
		msgs:       deps.Messages,
		users:      deps.Users,
		notifs:     deps.Notifier,
		verifier:   deps.Verifier,
		guard:      deps.Guard,
		buffer:     NewMessageBuffer(),
		retryAfter: deps.RetryAfter,
	}
}

// SetNotifier installs the notification store after construction. The
// store needs the gateway as its live-push sink, so the two are wired in
// two steps.
func (g *Gateway) SetNotifier(n Notifier) { g.notifs = n }

// Authenticate validates the upgrade request's token and checks the ban
// directory. It is called by the transport before the WebSocket
// handshake; ws.ErrForbidden maps to 403, other errors to 401.
func (g *Gateway) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	userID, err := g.verifier.Verify(auth.FromRequest(r))
	if err != nil {
		return "", err
	}

	admit, err := g.guard.Admit(ctx, userID)
	if err != nil {
		// Guard already failed open; the error is informational.
		log.Printf("session: ban check degraded for user=%s: %v", userID, err)
	}
	if !admit {
		return "", ws.ErrForbidden
	}
	return userID, nil
}

// HandleConnect registers an admitted connection: it joins the user's
// personal room and every conversation room, records presence, and
// announces the user's online edge when this is their first socket.
func (g *Gateway) HandleConnect(c Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID := c.User()

	g.router.Join(room.UserRoom(userID), c)

	convs, err := g.convs.GetConversations(ctx, userID)
	if err != nil {
		log.Printf("session: list conversations for user=%s: %v", userID, err)
	}
	for _, conv := range convs {
		g.router.Join(room.ConversationRoom(conv.ID), c)
	}

	if g.presence.Register(userID, c.ID()) {
		metrics.OnlineUsers.Set(float64(g.presence.OnlineCount()))
		g.fanout.Global(protocol.TypeUserOnline, protocol.UserOnlineMsg{UserID: userID})
	}

	g.reply(c, protocol.TypeConnected, protocol.ConnectedMsg{UserID: userID})
}

// HandleDisconnect removes the connection from every room and announces
// the offline edge when the user's last socket is gone.
func (g *Gateway) HandleDisconnect(c Conn) {
	g.router.LeaveAll(c.ID())

	if g.presence.Unregister(c.User(), c.ID()) {
		metrics.OnlineUsers.Set(float64(g.presence.OnlineCount()))
		g.fanout.Global(protocol.TypeUserOffline, protocol.UserOfflineMsg{UserID: c.User()})
	}
}

// HandleMessage parses and dispatches one inbound frame. A panic in a
// handler is contained to this message: the client gets a failed ack and
// the connection stays up.
func (g *Gateway) HandleMessage(c Conn, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("session: bad message from user=%s: %v", c.User(), err)
		g.reply(c, protocol.TypeError, protocol.ErrorMsg{
			Code:    "bad_message",
			Message: "malformed or unknown message",
		})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: panic handling %s from user=%s: %v", msgType, c.User(), r)
			g.ack(c, msgType, false, "internal error")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch m := msg.(type) {
	case protocol.SendMessageMsg:
		g.handleSendMessage(ctx, c, m)
	case protocol.JoinConversationMsg:
		g.handleJoinConversation(ctx, c, m)
	case protocol.MarkReadMsg:
		g.handleMarkRead(ctx, c, m)
	case protocol.TypingMsg:
		g.handleTyping(c, m)
	case protocol.PingMsg:
		g.reply(c, protocol.TypePong, protocol.PongMsg{})
	}
}

// handleSendMessage is the full outbound path for one chat message:
// membership check, moderation, persistence, fanout, and best-effort
// notifications for offline participants.
func (g *Gateway) handleSendMessage(ctx context.Context, c Conn, m protocol.SendMessageMsg) {
	userID := c.User()

	if err := ValidateContent(m.Content); err != nil {
		g.ack(c, protocol.TypeSendMessage, false, err.Error())
		return
	}

	ok, err := g.convs.IsParticipant(ctx, m.ConversationID, userID)
	if err != nil {
		log.Printf("session: participant check user=%s conv=%s: %v", userID, m.ConversationID, err)
		g.ack(c, protocol.TypeSendMessage, false, "internal error")
		return
	}
	if !ok {
		g.ack(c, protocol.TypeSendMessage, false, "Not a participant")
		return
	}

	start := time.Now()
	decision := g.moderate.Evaluate(ctx, userID, m.Content)
	metrics.ModerationLatency.Observe(time.Since(start).Seconds())

	if !decision.Allowed {
		switch decision.Reason {
		case moderation.ReasonRateLimit:
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			retry := 0
			if g.retryAfter != nil {
				retry = g.retryAfter(ctx, userID)
			}
			g.reply(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: retry})
		default:
			metrics.MessagesTotal.WithLabelValues("repeated").Inc()
			g.ack(c, protocol.TypeSendMessage, false, string(decision.Reason))
		}
		return
	}

	msg := &storage.Message{
		ConversationID: m.ConversationID,
		SenderID:       userID,
		Content:        decision.Content,
	}
	if err := g.msgs.Save(ctx, msg); err != nil {
		log.Printf("session: save message user=%s conv=%s: %v", userID, m.ConversationID, err)
		g.ack(c, protocol.TypeSendMessage, false, "internal error")
		return
	}

	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	g.ack(c, protocol.TypeSendMessage, true, "")

	payload := protocol.MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.Unix(),
	}
	g.buffer.Add(m.ConversationID, payload)
	g.fanout.Room(room.ConversationRoom(m.ConversationID), c.ID(), protocol.TypeNewMessage, protocol.NewMessageMsg{
		ConversationID: m.ConversationID,
		Message:        payload,
	})

	go g.notifyOffline(userID, m.ConversationID, msg.Content)
}

// notifyOffline creates a new_message notification for every offline
// participant. Failures are logged and counted, never surfaced to the
// sender; the message itself was already delivered.
func (g *Gateway) notifyOffline(senderID, conversationID, content string) {
	if g.notifs == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	participants, err := g.convs.Participants(ctx, conversationID)
	if err != nil {
		log.Printf("session: participants for conv=%s: %v", conversationID, err)
		return
	}

	actor := senderID
	if g.users != nil {
		if name, err := g.users.DisplayName(ctx, senderID); err == nil && name != "" {
			actor = name
		}
	}

	for _, p := range participants {
		if p == senderID || g.presence.IsOnline(p) {
			continue
		}
		_, err := g.notifs.Create(ctx, p, notification.KindNewMessage, notification.Params{
			ActorID:     senderID,
			RelatedID:   conversationID,
			RelatedType: "conversation",
			Vars:        map[string]string{"actor": actor},
		})
		if err != nil {
			metrics.NotificationFailures.Inc()
			log.Printf("session: notify user=%s conv=%s: %v", p, conversationID, err)
			continue
		}
		metrics.NotificationsCreated.Inc()
	}
}

func (g *Gateway) handleJoinConversation(ctx context.Context, c Conn, m protocol.JoinConversationMsg) {
	ok, err := g.convs.IsParticipant(ctx, m.ConversationID, c.User())
	if err != nil {
		log.Printf("session: participant check user=%s conv=%s: %v", c.User(), m.ConversationID, err)
		g.ack(c, protocol.TypeJoinConversation, false, "internal error")
		return
	}
	if !ok {
		g.ack(c, protocol.TypeJoinConversation, false, "Not a participant")
		return
	}

	g.router.Join(room.ConversationRoom(m.ConversationID), c)
	g.ack(c, protocol.TypeJoinConversation, true, "")

	// Replay the conversation's recent messages so the socket has
	// immediate context.
	for _, payload := range g.buffer.Get(m.ConversationID) {
		g.reply(c, protocol.TypeNewMessage, protocol.NewMessageMsg{
			ConversationID: m.ConversationID,
			Message:        payload,
		})
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, c Conn, m protocol.MarkReadMsg) {
	readAt, err := g.msgs.MarkAsRead(ctx, m.ConversationID, c.User())
	if err != nil {
		log.Printf("session: mark read user=%s conv=%s: %v", c.User(), m.ConversationID, err)
		g.ack(c, protocol.TypeMarkRead, false, "internal error")
		return
	}

	g.ack(c, protocol.TypeMarkRead, true, "")
	g.fanout.Room(room.ConversationRoom(m.ConversationID), c.ID(), protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ConversationID: m.ConversationID,
		UserID:         c.User(),
		ReadAt:         readAt.Unix(),
	})
}

// handleTyping relays a typing indicator to the conversation room. It is
// fire-and-forget: no ack, no persistence, and only relayed when the
// sender has actually joined the room.
func (g *Gateway) handleTyping(c Conn, m protocol.TypingMsg) {
	roomID := room.ConversationRoom(m.ConversationID)
	if !g.router.Contains(roomID, c.ID()) {
		return
	}
	g.fanout.Room(roomID, c.ID(), protocol.TypeUserTyping, protocol.UserTypingMsg{
		ConversationID: m.ConversationID,
		UserID:         c.User(),
		IsTyping:       m.IsTyping,
	})
}

// IsUserOnline reports whether the user has at least one live socket on
// this instance. Exposed for collaborators outside the event path.
func (g *Gateway) IsUserOnline(userID string) bool {
	return g.presence.IsOnline(userID)
}

// SendToUser pushes an arbitrary event to every socket of a user, here
// and on peer instances.
func (g *Gateway) SendToUser(userID, event string, payload interface{}) {
	g.fanout.Room(room.UserRoom(userID), "", event, payload)
}

// BroadcastToConversation pushes an arbitrary event to a conversation
// room, here and on peer instances.
func (g *Gateway) BroadcastToConversation(conversationID, event string, payload interface{}) {
	g.fanout.Room(room.ConversationRoom(conversationID), "", event, payload)
}

// PushNotification delivers a freshly stored notification to the user's
// live sockets on every instance. It implements notification.Pusher.
func (g *Gateway) PushNotification(userID string, n *notification.Notification) {
	g.fanout.Room(room.UserRoom(userID), "", protocol.TypeNotification, protocol.NotificationMsg{
		ID:          n.ID,
		Kind:        n.Kind,
		Title:       n.Title,
		Content:     n.Content,
		UserID:      n.UserID,
		ActorID:     n.ActorID,
		RelatedID:   n.RelatedID,
		RelatedType: n.RelatedType,
		Read:        n.Read,
		CreatedAt:   n.CreatedAt,
	})
}

// ack sends a per-call AckMsg for the given client op.
func (g *Gateway) ack(c Conn, op string, success bool, errMsg string) {
	g.reply(c, protocol.TypeAck, protocol.AckMsg{Op: op, Success: success, Error: errMsg})
}

// reply writes a server message directly to one connection.
func (g *Gateway) reply(c Conn, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("session: encode %s: %v", msgType, err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Printf("session: send %s to conn=%s: %v", msgType, c.ID(), err)
	}
}
