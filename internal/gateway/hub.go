package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/pkg/types"
)

// ConversationReader returns a session's full round/post history for replay
// on connect. *convstore.Store satisfies this.
type ConversationReader interface {
	Conversation(sessionID string) types.Conversation
}

// TurnRunner drives one round of the turn loop to completion.
// *orchestrator.Orchestrator satisfies this.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userQuery string) error
}

// ConfirmProvider resolves a session's outstanding code-execution
// confirmation. *confirm.Gate satisfies this.
type ConfirmProvider interface {
	ProvideConfirmation(sessionID string, approved bool) error
}

// Uploader stores a file into a session's cwd. *execclient.Client satisfies
// this.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, data []byte) error
}

// UploaderFactory resolves (creating if necessary) the Uploader bound to
// sessionID.
type UploaderFactory func(sessionID string) (Uploader, error)

// Client is one connected duplex connection, bound to exactly one
// session_id for its lifetime.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	sessionID string
}

// Hub bridges the Event Bus to every connected Client and dispatches
// inbound send_message/confirm/upload_file frames (spec §4.J).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	bus     *event.Bus
	convs   ConversationReader
	runner  TurnRunner
	confirm ConfirmProvider
	uploads UploaderFactory

	turnMu   sync.Mutex
	inFlight map[string]bool // sessionID -> a turn is currently running

	unsubscribe func()
}

// NewHub returns a Hub bridging bus to connected clients. uploads may be
// nil, in which case upload_file frames are rejected.
func NewHub(bus *event.Bus, convs ConversationReader, runner TurnRunner, confirmer ConfirmProvider, uploads UploaderFactory) *Hub {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		bus:      bus,
		convs:    convs,
		runner:   runner,
		confirm:  confirmer,
		uploads:  uploads,
		inFlight: make(map[string]bool),
	}
	h.unsubscribe = bus.SubscribeAll(h.onEvent)
	return h
}

func (h *Hub) onEvent(ev event.Event) {
	frame, ok := translateEvent(ev)
	if !ok {
		return
	}
	sessionID := sessionIDFor(ev)
	if sessionID == "" {
		return
	}
	frame.SessionID = sessionID
	data, err := frame.Marshal()
	if err != nil {
		logging.Error().Err(err).Str("event_type", string(ev.Type)).Msg("marshal outbound frame")
		return
	}
	h.sendToSession(sessionID, data)
}

func (h *Hub) sendToSession(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.sessionID == sessionID {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// ServeWS upgrades the request to a duplex connection bound to sessionID,
// sends `connected`, replays the session's history, then serves inbound
// frames until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logging.Error().Err(err).Msg("websocket accept")
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, 256), hub: h, sessionID: sessionID}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)

	client.sendFrame(OutboundFrame{Type: OutConnected, SessionID: sessionID})
	for _, frame := range replayFrames(h.convs.Conversation(sessionID)) {
		client.sendFrame(frame)
	}

	client.readPump(ctx, h)
}

func (c *Client) sendFrame(frame OutboundFrame) {
	data, err := frame.Marshal()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendFrame(OutboundFrame{Type: OutError, Message: "invalid frame: " + err.Error()})
			continue
		}
		h.handleInbound(ctx, c, frame)
	}
}

func (h *Hub) handleInbound(ctx context.Context, c *Client, frame InboundFrame) {
	switch frame.Type {
	case InboundSendMessage:
		h.handleSendMessage(c, frame)
	case InboundConfirm:
		if err := h.confirm.ProvideConfirmation(c.sessionID, frame.Approved); err != nil {
			c.sendFrame(OutboundFrame{Type: OutError, Message: err.Error()})
		}
	case InboundUploadFile:
		h.handleUploadFile(ctx, c, frame)
	default:
		c.sendFrame(OutboundFrame{Type: OutError, Message: "unknown frame type: " + string(frame.Type)})
	}
}

// handleSendMessage rejects a new turn while one is already in flight for
// this session_id (spec §4.J: "while a turn is in flight, reject new
// send_message with a well-typed error; multiplexed confirmations are
// permitted"), then runs the turn on its own goroutine so the read loop
// stays free to accept a multiplexed confirm frame.
func (h *Hub) handleSendMessage(c *Client, frame InboundFrame) {
	h.turnMu.Lock()
	if h.inFlight[c.sessionID] {
		h.turnMu.Unlock()
		c.sendFrame(OutboundFrame{Type: OutError, Message: "a turn is already in flight for session " + c.sessionID})
		return
	}
	h.inFlight[c.sessionID] = true
	h.turnMu.Unlock()

	sessionID := c.sessionID
	go func() {
		defer func() {
			h.turnMu.Lock()
			delete(h.inFlight, sessionID)
			h.turnMu.Unlock()
		}()
		if err := h.runner.RunTurn(context.Background(), sessionID, frame.Message); err != nil {
			logging.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
		}
	}()
}

func (h *Hub) handleUploadFile(ctx context.Context, c *Client, frame InboundFrame) {
	if h.uploads == nil {
		c.sendFrame(OutboundFrame{Type: OutError, Message: "file upload is not configured"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(frame.ContentB64)
	if err != nil {
		c.sendFrame(OutboundFrame{Type: OutError, Message: "invalid content_b64: " + err.Error()})
		return
	}
	uploader, err := h.uploads(c.sessionID)
	if err != nil {
		c.sendFrame(OutboundFrame{Type: OutError, Message: err.Error()})
		return
	}
	if err := uploader.UploadFile(ctx, frame.Filename, data); err != nil {
		c.sendFrame(OutboundFrame{Type: OutError, Message: err.Error()})
	}
}

// Close unsubscribes from the bus and closes every connected client.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.sendFrame(OutboundFrame{Type: OutError, Message: "server shutting down"})
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
