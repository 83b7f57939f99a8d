package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/event"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// Messages exchanged over /v1/events.
type (
	// subscribeRequest replaces the client's filter. An empty subscription
	// receives every event.
	subscribeRequest struct {
		Type string       `json:"type"`
		Data subscription `json:"data"`
	}

	subscription struct {
		RunID      string       `json:"run_id,omitempty"`
		EventTypes []event.Type `json:"event_types,omitempty"`
	}

	// subscribedMessage acknowledges a subscription. Run carries the current
	// status when the subscription names a known run.
	subscribedMessage struct {
		Type  string         `json:"type"`
		RunID string         `json:"run_id,omitempty"`
		Run   *engine.Status `json:"run,omitempty"`
	}

	eventMessage struct {
		Type string      `json:"type"`
		Data event.Event `json:"data"`
	}
)

// wsClient streams broker events to one WebSocket connection.
type wsClient struct {
	conn   *websocket.Conn
	coord  *engine.Coordinator
	logger *slog.Logger
	events <-chan event.Event
	unsub  func()
	filter event.Filter
}

// handleWebSocket upgrades the connection and streams lifecycle events. The
// initial filter comes from the run_id and types query parameters; clients
// may replace it with a subscribe message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	initial := subscription{RunID: r.URL.Query().Get("run_id")}
	if types := r.URL.Query().Get("types"); types != "" {
		for t := range strings.SplitSeq(types, ",") {
			initial.EventTypes = append(initial.EventTypes, event.Type(strings.TrimSpace(t)))
		}
	}

	// Subscribe before the handshake completes so the client sees every
	// event published after its dial returns.
	ch, unsub := s.coord.Broker().SubscribeAll(nil)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsub()
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		coord:  s.coord,
		logger: s.logger,
		events: ch,
		unsub:  unsub,
		filter: buildFilter(initial),
	}

	go client.run()
}

func (c *wsClient) run() {
	defer func() {
		c.unsub()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	done := make(chan struct{})
	defer close(done)
	go c.readMessages(incoming, done)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleSubscribe(message) {
				return
			}

		case ev, ok := <-c.events:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.filter(ev) {
				continue
			}
			if !c.write(eventMessage{Type: "event", Data: ev}) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readMessages forwards client messages to incoming until the connection
// fails or done is closed.
func (c *wsClient) readMessages(incoming chan<- []byte, done <-chan struct{}) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-done:
			return
		}
	}
}

// handleSubscribe applies a subscribe message. Malformed messages are
// logged and ignored. It reports false if the connection failed.
func (c *wsClient) handleSubscribe(message []byte) bool {
	var req subscribeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.logger.Warn("invalid websocket message", "error", err)
		return true
	}
	if req.Type != "subscribe" {
		return true
	}

	c.filter = buildFilter(req.Data)

	ack := subscribedMessage{Type: "subscribed", RunID: req.Data.RunID}
	if req.Data.RunID != "" {
		if st, err := c.coord.Status(req.Data.RunID); err == nil {
			ack.Run = &st
		}
	}
	return c.write(ack)
}

func (c *wsClient) write(v any) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}

func buildFilter(sub subscription) event.Filter {
	var filters []event.Filter
	if sub.RunID != "" {
		filters = append(filters, event.ForRun(sub.RunID))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, event.OfTypes(sub.EventTypes...))
	}
	return event.And(filters...)
}
