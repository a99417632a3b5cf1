package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// Handler upgrades HTTP connections to WebSocket and hands each one to the
// broker. Lives in this package since Gauss has no separate
// HTTP-handlers layer.
type Handler struct {
	broker *Broker
}

// NewHandler builds an http.Handler-compatible upgrader bound to broker.
func NewHandler(broker *Broker) *Handler {
	return &Handler{broker: broker}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("realtime: failed to accept WebSocket connection")
		return
	}

	client := NewClient(conn, h.broker)
	h.broker.RegisterClient(client)

	connectedPayload, _ := json.Marshal(&ConnectedPayload{ClientID: client.ID})
	_ = client.Send(&Message{Type: MessageTypeConnected, Payload: connectedPayload})

	defer h.broker.UnregisterClient(client.ID)
	client.Run()
}
