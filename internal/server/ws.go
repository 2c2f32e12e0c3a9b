package server

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/comms/internal/accessmemo"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/internal/realtime"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 25 * time.Second
	wsMaxFrameBytes  = 4096
	wsOutboundBuffer = 128
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameTypingStart = "typing.start"
	frameTypingStop  = "typing.stop"
	framePing        = "ping"

	frameEvent = "event"
	frameAck   = "ack"
	frameError = "error"
)

type clientFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

type serverFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Error     *errorPayload   `json:"error,omitempty"`
}

// wsSession is one websocket connection. A connection may subscribe to many
// channels; each subscription is forwarded by its own goroutine into the
// single writer.
type wsSession struct {
	server *Server
	conn   *websocket.Conn
	actor  identity.Actor
	base   context.Context
	log    *zap.Logger

	out        chan []byte
	done       chan struct{}
	writerDone chan struct{}

	mu     sync.Mutex
	subs   map[snowflake.ID]*realtime.Subscription
	typing map[snowflake.ID]struct{}
	wg     sync.WaitGroup
}

func (s *Server) ServeWebSocket(c *gin.Context) {
	actor := actorFrom(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.rtMetrics.ConnectionOpened()
	defer s.rtMetrics.ConnectionClosed()

	session := &wsSession{
		server:     s,
		conn:       conn,
		actor:      actor,
		base:       context.WithoutCancel(c.Request.Context()),
		log:        s.log.With(zap.String("user_id", actor.ID())),
		out:        make(chan []byte, wsOutboundBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		subs:       make(map[snowflake.ID]*realtime.Subscription),
		typing:     make(map[snowflake.ID]struct{}),
	}

	go session.writeLoop()
	session.readLoop()
	session.close()
}

func (w *wsSession) readLoop() {
	w.conn.SetReadLimit(wsMaxFrameBytes)
	_ = w.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.sendError("", "", invalidRequestError())
			continue
		}
		w.handle(frame)
	}
}

func (w *wsSession) handle(frame clientFrame) {
	switch frame.Type {
	case framePing:
		w.sendAck(frame, "")
		return
	case frameSubscribe, frameUnsubscribe, frameTypingStart, frameTypingStop:
	default:
		w.sendError(frame.RequestID, frame.ChannelID, newValidationError("type", "invalid_type", "unknown frame type"))
		return
	}

	channelID, err := parseOptionalSnowflakeID(frame.ChannelID)
	if err != nil || channelID == nil {
		w.sendError(frame.RequestID, frame.ChannelID, newValidationError("channel_id", "invalid_channel_id", "invalid channel_id"))
		return
	}

	// A fresh memo per frame so every frame sees current membership.
	ctx := accessmemo.WithMemo(w.base)

	switch frame.Type {
	case frameSubscribe:
		err = w.subscribe(ctx, *channelID)
	case frameUnsubscribe:
		w.unsubscribe(*channelID)
	case frameTypingStart:
		err = w.server.gateway.StartTyping(ctx, w.actor, *channelID)
		if err == nil {
			w.mu.Lock()
			w.typing[*channelID] = struct{}{}
			w.mu.Unlock()
		}
	case frameTypingStop:
		w.server.gateway.StopTyping(ctx, w.actor, *channelID)
		w.mu.Lock()
		delete(w.typing, *channelID)
		w.mu.Unlock()
	}

	if err != nil {
		w.sendError(frame.RequestID, frame.ChannelID, err)
		return
	}
	w.sendAck(frame, channelID.String())
}

func (w *wsSession) subscribe(ctx context.Context, channelID snowflake.ID) error {
	w.mu.Lock()
	_, exists := w.subs[channelID]
	w.mu.Unlock()
	if exists {
		return nil
	}

	sub, snapshot, err := w.server.gateway.Subscribe(ctx, w.actor, channelID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if _, exists := w.subs[channelID]; exists {
		w.mu.Unlock()
		sub.Close()
		return nil
	}
	w.subs[channelID] = sub
	w.mu.Unlock()

	// The snapshot is queued before the forwarder starts so it is always
	// the first event of the subscription.
	w.sendEvent(snapshot, true)
	w.wg.Add(1)
	go w.forward(sub)
	return nil
}

func (w *wsSession) unsubscribe(channelID snowflake.ID) {
	w.mu.Lock()
	sub := w.subs[channelID]
	delete(w.subs, channelID)
	w.mu.Unlock()
	sub.Close()
}

func (w *wsSession) forward(sub *realtime.Subscription) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-sub.Done():
			w.mu.Lock()
			current := w.subs[sub.ChannelID()]
			revoked := current == sub
			if revoked {
				delete(w.subs, sub.ChannelID())
			}
			w.mu.Unlock()
			if revoked {
				w.sendError("", sub.ChannelID().String(), ErrForbidden)
			}
			return
		case env := <-sub.Events():
			w.sendEvent(env, false)
		}
	}
}

func (w *wsSession) writeLoop() {
	defer close(w.writerDone)
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-w.done:
			return
		case data := <-w.out:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.log.Debug("websocket write failed", zap.Error(err))
				_ = w.conn.Close()
				return
			}
		case <-ping.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = w.conn.Close()
				return
			}
		}
	}
}

// sendEvent drops the event when the connection cannot keep up, unless it
// must be delivered.
func (w *wsSession) sendEvent(env realtime.Envelope, must bool) {
	event, err := realtime.Encode(env)
	if err != nil {
		w.log.Warn("encode event failed", zap.String("event_kind", string(env.Kind)), zap.Error(err))
		return
	}
	data, err := json.Marshal(serverFrame{
		Type:      frameEvent,
		ChannelID: env.ChannelID.String(),
		Event:     event,
	})
	if err != nil {
		return
	}
	if must {
		w.enqueue(data)
		return
	}
	select {
	case w.out <- data:
	case <-w.done:
	case <-w.writerDone:
	default:
		w.server.rtMetrics.Dropped(string(env.Kind), 1)
	}
}

func (w *wsSession) sendAck(frame clientFrame, channelID string) {
	data, err := json.Marshal(serverFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		ChannelID: channelID,
	})
	if err != nil {
		return
	}
	w.enqueue(data)
}

func (w *wsSession) sendError(requestID, channelID string, cause error) {
	_, payload := mapError(cause)
	data, err := json.Marshal(serverFrame{
		Type:      frameError,
		RequestID: requestID,
		ChannelID: channelID,
		Error:     &payload,
	})
	if err != nil {
		return
	}
	w.enqueue(data)
}

func (w *wsSession) enqueue(data []byte) {
	select {
	case w.out <- data:
	case <-w.done:
	case <-w.writerDone:
	}
}

// close releases every subscription and clears the typing indicators this
// connection raised.
func (w *wsSession) close() {
	close(w.done)

	w.mu.Lock()
	subs := w.subs
	typing := w.typing
	w.subs = map[snowflake.ID]*realtime.Subscription{}
	w.typing = map[snowflake.ID]struct{}{}
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	for channelID := range typing {
		w.server.gateway.StopTyping(w.base, w.actor, channelID)
	}
	w.wg.Wait()
	_ = w.conn.Close()
}
