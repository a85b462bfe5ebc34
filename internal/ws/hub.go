// Package ws is the persistent-channel binding: one bidirectional websocket
// carrying the protocol envelope, dispatched onto the same services as the
// request/response binding.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/models"
	"carshare/internal/protocol"
	"carshare/internal/rental"
)

// conn serializes writes to one websocket.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

type Hub struct {
	auth     *auth.Service
	fleet    *fleet.Service
	rental   *rental.Service
	commands *command.Service
	lg       *zap.SugaredLogger

	mu sync.Mutex
	// riders maps the envelope clientId of a connected rider to its conn.
	riders map[string]*conn
	// riderClients maps envelope clientId -> registered client record id,
	// and clientRiders the reverse, for NOTIFY routing.
	riderClients map[string]string
	clientRiders map[string]string
	// cars maps a VIN to its connected telematics conn.
	cars map[string]*conn
}

func NewHub(a *auth.Service, f *fleet.Service, r *rental.Service, c *command.Service, lg *zap.SugaredLogger) *Hub {
	return &Hub{
		auth:         a,
		fleet:        f,
		rental:       r,
		commands:     c,
		lg:           lg,
		riders:       make(map[string]*conn),
		riderClients: make(map[string]string),
		clientRiders: make(map[string]string),
		cars:         make(map[string]*conn),
	}
}

var (
	_ rental.Notifier    = (*Hub)(nil)
	_ command.Dispatcher = (*Hub)(nil)
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the connection and runs the envelope read loop.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.lg.Warnw("websocket upgrade failed", "error", err)
			return
		}
		c := &conn{ws: sock}
		var lastClient string
		defer func() {
			sock.Close()
			if lastClient != "" {
				h.disconnect(lastClient, c)
			}
		}()
		for {
			_, data, err := sock.ReadMessage()
			if err != nil {
				return
			}
			env, payload, err := protocol.Decode(data)
			if err != nil {
				h.sendNotify(c, err.Error(), nil)
				continue
			}
			lastClient = env.ClientID
			h.dispatch(r.Context(), c, env, payload)
		}
	}
}

// NotifyClient implements rental.Notifier: push a NOTIFY to the rider if it
// is connected on this binding.
func (h *Hub) NotifyClient(clientID, text string) {
	h.mu.Lock()
	rid, ok := h.clientRiders[clientID]
	var c *conn
	if ok {
		c = h.riders[rid]
	}
	h.mu.Unlock()
	if c == nil {
		return
	}
	h.sendNotify(c, text, nil)
}

// DispatchCommand implements command.Dispatcher: push the command to the
// VIN's telematics conn if one is connected. The envelope's MessageID is the
// command id, so a CAR_STATE_RESPONSE correlating to it acks the command.
func (h *Hub) DispatchCommand(cmd models.Command) {
	h.mu.Lock()
	c := h.cars[cmd.VIN]
	h.mu.Unlock()
	if c == nil {
		return
	}
	var msgType string
	switch cmd.Kind {
	case models.CommandUnlock:
		msgType = protocol.TypeCarUnlock
	case models.CommandLock:
		msgType = protocol.TypeCarLock
	case models.CommandStateQuery:
		msgType = protocol.TypeCarStateQuery
	default:
		return
	}
	env, err := protocol.Build(msgType, protocol.CarCommandPayload{VIN: cmd.VIN}, protocol.WithMessageID(cmd.ID))
	if err != nil {
		return
	}
	if err := c.send(env); err != nil {
		h.lg.Debugw("command push failed", "vin", cmd.VIN, "error", err)
	}
}

func (h *Hub) sendNotify(c *conn, text string, correlationID *string) {
	opts := []protocol.BuildOption{}
	if correlationID != nil {
		opts = append(opts, protocol.WithCorrelation(*correlationID))
	}
	env, err := protocol.Build(protocol.TypeNotify, protocol.NotifyPayload{Message: text}, opts...)
	if err != nil {
		return
	}
	_ = c.send(env)
}

func (h *Hub) reply(c *conn, msgType string, payload any, requestID string) {
	env, err := protocol.Build(msgType, payload, protocol.WithCorrelation(requestID))
	if err != nil {
		h.lg.Warnw("envelope build failed", "type", msgType, "error", err)
		return
	}
	if err := c.send(env); err != nil {
		h.lg.Debugw("envelope send failed", "type", msgType, "error", err)
	}
}

func (h *Hub) disconnect(clientID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.riders[clientID] == c {
		delete(h.riders, clientID)
		if rec, ok := h.riderClients[clientID]; ok {
			delete(h.riderClients, clientID)
			delete(h.clientRiders, rec)
		}
	}
	for vin, cc := range h.cars {
		if cc == c {
			delete(h.cars, vin)
		}
	}
}
