package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"watchroom/internal/api/http/converter"
	"watchroom/internal/domain"
	"watchroom/internal/registry"
	"watchroom/internal/service"
	"watchroom/lib/logger/sl"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSController owns the persistent bidirectional transport: it upgrades
// connections, assigns connection ids, decodes inbound envelopes and feeds
// them to the room service.
type WSController struct {
	rooms     *service.RoomService
	upgrader  websocket.Upgrader
	sendQueue int

	heartbeatInterval time.Duration
	reconnectWindow   time.Duration

	log *slog.Logger
}

func NewWSController(rooms *service.RoomService, readBuf, writeBuf, sendQueue int, heartbeat, reconnect time.Duration, log *slog.Logger) *WSController {
	return &WSController{
		rooms:             rooms,
		sendQueue:         sendQueue,
		heartbeatInterval: heartbeat,
		reconnectWindow:   reconnect,
		log:               log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve handles GET /ws for the lifetime of one connection.
func (c *WSController) Serve(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}

	connID := registry.NewConnectionID()
	client := newWSClient(conn, c.sendQueue)
	c.rooms.Connect(connID, client)
	go client.writePump()

	client.Send(domain.Envelope{
		Event: domain.EventConnected,
		Data: domain.ConnectedPayload{
			ConnectionID:        connID,
			HeartbeatIntervalMS: c.heartbeatInterval.Milliseconds(),
			ReconnectWindowMS:   c.reconnectWindow.Milliseconds(),
		},
	})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env domain.InboundEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", slog.String("conn_id", connID), sl.Err(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(connID, client, env)
	}

	c.rooms.Disconnect(connID)
	client.close()
}

// wsResult is the body of every request/response reply except list-rooms.
type wsResult struct {
	Success    bool                       `json:"success"`
	Error      string                     `json:"error,omitempty"`
	Room       *converter.RoomResponse    `json:"room,omitempty"`
	OwnerToken string                     `json:"owner_token,omitempty"`
	Members    []converter.MemberResponse `json:"members,omitempty"`
}

func (c *WSController) dispatch(connID string, client *wsClient, env domain.InboundEnvelope) {
	switch env.Event {
	case domain.EventCreateRoom:
		var req domain.CreateRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.reply(client, env, wsResult{Error: service.ErrMalformedRequest.Error()})
			return
		}
		res, err := c.rooms.CreateRoom(connID, req)
		if err != nil {
			c.reply(client, env, wsResult{Error: err.Error()})
			return
		}
		c.reply(client, env, wsResult{
			Success:    true,
			Room:       converter.RoomToAPI(res.Room),
			OwnerToken: res.OwnerToken,
		})

	case domain.EventJoinRoom:
		var req domain.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.reply(client, env, wsResult{Error: service.ErrMalformedRequest.Error()})
			return
		}
		res, err := c.rooms.JoinRoom(connID, req)
		if err != nil {
			c.reply(client, env, wsResult{Error: err.Error()})
			return
		}
		c.reply(client, env, wsResult{
			Success: true,
			Room:    converter.RoomToAPI(res.Room),
			Members: converter.MembersToAPI(res.Members),
		})

	case domain.EventListRooms:
		// Listing always succeeds; no success wrapper.
		client.Send(domain.Envelope{
			Event: env.Event,
			ID:    env.ID,
			Data:  gin.H{"rooms": converter.RoomsToAPI(c.rooms.ListRooms())},
		})

	case domain.EventLeaveRoom:
		c.rooms.LeaveRoom(connID)

	case domain.EventPlayUpdate:
		var st domain.PlaybackState
		if json.Unmarshal(env.Data, &st) != nil {
			return
		}
		c.rooms.PlayUpdate(connID, st)

	case domain.EventPlaySeek:
		var p domain.SeekPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.rooms.PlaySeek(connID, p.Time)

	case domain.EventPlayPlay:
		c.rooms.PlayPlay(connID)

	case domain.EventPlayPause:
		c.rooms.PlayPause(connID)

	case domain.EventPlayChange:
		var st domain.PlaybackState
		if json.Unmarshal(env.Data, &st) != nil {
			return
		}
		c.rooms.PlayChange(connID, st)

	case domain.EventLiveChange:
		var st domain.ChannelState
		if json.Unmarshal(env.Data, &st) != nil {
			return
		}
		c.rooms.LiveChange(connID, st)

	case domain.EventChatMessage:
		var p domain.ChatSendPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.rooms.ChatMessage(connID, p.Content, p.Kind)

	case domain.EventSignalOffer, domain.EventSignalAnswer, domain.EventSignalICE:
		var msg domain.SignalMessage
		if json.Unmarshal(env.Data, &msg) != nil {
			return
		}
		c.rooms.Signal(connID, env.Event, msg)

	case domain.EventHeartbeat:
		c.rooms.Heartbeat(connID)

	default:
		c.log.Debug("unknown event", slog.String("event", env.Event), slog.String("conn_id", connID))
	}
}

func (c *WSController) reply(client *wsClient, env domain.InboundEnvelope, res wsResult) {
	client.Send(domain.Envelope{Event: env.Event, ID: env.ID, Data: res})
}

// wsClient adapts a gorilla connection to the service.Sender contract with a
// buffered outbound queue and a ping-keeping write pump.
type wsClient struct {
	conn *websocket.Conn
	send chan domain.Envelope
}

func newWSClient(conn *websocket.Conn, queue int) *wsClient {
	if queue <= 0 {
		queue = 256
	}
	return &wsClient{conn: conn, send: make(chan domain.Envelope, queue)}
}

// Send enqueues without blocking; a full queue drops the frame.
func (c *wsClient) Send(ev domain.Envelope) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// close ends the write pump. Callers must guarantee no Send happens after;
// the room service drops its sender reference before this is called.
func (c *wsClient) close() {
	close(c.send)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
