package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cove-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// directMessage is an answer for one client, delivered by the hub
type directMessage struct {
	client *Client
	msg    interface{}
}

// runHub owns the client set until Stop
func (s *Server) runHub() {
	for {
		select {
		case <-s.quit:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.setClientCount(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setClientCount(len(s.clients))
			client.send <- s.snapshot()

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.setClientCount(len(s.clients))
			}

		case d := <-s.direct:
			if _, ok := s.clients[d.client]; !ok {
				continue
			}
			select {
			case d.client.send <- d.msg:
			default:
				delete(s.clients, d.client)
				close(d.client.send)
				s.setClientCount(len(s.clients))
				s.Logger.Warning("Dropping slow websocket client %s", d.client.id)
			}

		case ev := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- ev:
				default:
					// slow consumer
					delete(s.clients, client)
					close(client.send)
					s.Logger.Warning("Dropping slow websocket client %s", client.id)
				}
			}
			s.setClientCount(len(s.clients))
		}
	}
}

func (s *Server) setClientCount(n int) {
	s.connected.Store(int64(n))
	if s.deps.Metrics != nil {
		s.deps.Metrics.WSClients.Set(float64(n))
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast queues ev for every websocket client. It never blocks: events are
// dropped while the queue is full.
func (s *Server) Broadcast(ev models.MEvent) {
	if ev.Kind == models.EventMaxRetriesReached {
		s.forgetWatch(ev.Source)
	}
	select {
	case s.broadcast <- ev:
	case <-s.quit:
	default:
		s.Logger.Debug("Broadcast queue full, dropping %s event from %s", ev.Kind, ev.Source)
	}
}

// -----------------------------------------------------------------------------

type wsMessage struct {
	Type    string      `json:"type"`
	Address string      `json:"address,omitempty"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// snapshot is the first message every client receives
func (s *Server) snapshot() wsMessage {
	data := gin.H{}
	if s.deps.Exchanges != nil {
		data["active"] = s.deps.Exchanges.ActiveSource()
		data["prices"] = s.deps.Exchanges.LatestAll()
	}
	if s.deps.Ledger != nil {
		data["ledger"] = s.deps.Ledger.Status()
	}
	return wsMessage{Type: "snapshot", OK: true, Data: data}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  s,
		conn: conn,
		send: make(chan interface{}, 256),
	}

	select {
	case s.register <- client:
	case <-s.quit:
		conn.Close()
		return
	}
	s.Logger.Debug("Client %s connected from %s", client.id, c.ClientIP())

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

type clientCommand struct {
	Command string `json:"command"`
	Address string `json:"address"`
}

func (s *Server) HandleClientMessage(client *Client, message []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "watch_balance":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reply := wsMessage{Type: "watch_balance", Address: cmd.Address, OK: true}
		if err := s.Watch(ctx, client.id, cmd.Address); err != nil {
			reply.OK = false
			reply.Error = err.Error()
		} else if bal, ok := s.deps.Balances.Latest(cmd.Address); ok {
			reply.Data = balanceView(bal)
		}
		client.reply(reply)

	case "unwatch_balance":
		s.Unwatch(client.id, cmd.Address)
		client.reply(wsMessage{Type: "unwatch_balance", Address: cmd.Address, OK: true})

	default:
		client.reply(wsMessage{Type: "error", Error: "unknown command '" + cmd.Command + "'"})
	}
}
