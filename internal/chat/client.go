package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 8192                // Maximum message size allowed from peer.
)

// rpcRequest is the envelope for a client-invoked operation. The id is
// echoed back so the frontend can match the reply to the call.
type rpcRequest struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

type rpcReply struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub         *Hub
	coordinator *Coordinator
	conn        *websocket.Conn

	id     string // connection id, unique per socket
	userID int

	// Buffered channel of outbound messages.
	send chan []byte
}

func newClient(hub *Hub, coordinator *Coordinator, conn *websocket.Conn, connID string, userID int) *Client {
	return &Client{
		hub:         hub,
		coordinator: coordinator,
		conn:        conn,
		id:          connID,
		userID:      userID,
		send:        make(chan []byte, 256),
	}
}

// readPump pumps RPC requests from the websocket to the coordinator.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.coordinator.OnDisconnect(c.userID, c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("client %s: read: %v", c.id, err)
			}
			break
		}

		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.reply(rpcReply{Error: "malformed request"})
			continue
		}
		// Each invocation runs in its own goroutine; ordering across
		// invocations is the coordinator's business, not the socket's.
		go c.dispatch(req)
	}
}

func (c *Client) dispatch(req rpcRequest) {
	ctx := context.Background()

	var (
		result any
		err    error
	)
	switch req.Method {
	case "CreateChat":
		var payload CreateChatRequest
		if err = json.Unmarshal(req.Payload, &payload); err == nil {
			result, err = c.coordinator.CreateChat(ctx, c.userID, c.id, payload)
		}
	case "SendMessage":
		var payload SendMessageRequest
		if err = json.Unmarshal(req.Payload, &payload); err == nil {
			result, err = c.coordinator.SendMessage(ctx, c.userID, payload)
		}
	case "LeaveGroup":
		var payload LeaveGroupRequest
		if err = json.Unmarshal(req.Payload, &payload); err == nil {
			err = c.coordinator.LeaveGroup(ctx, c.userID, payload)
		}
	default:
		err = validationErr("unknown method %q", req.Method)
	}

	reply := rpcReply{ID: req.ID, Result: result}
	if err != nil {
		reply.Result = nil
		reply.Error = err.Error()
		log.Printf("client %s: %s: %v", c.id, req.Method, err)
	}
	c.reply(reply)
}

func (c *Client) reply(reply rpcReply) {
	msg, err := json.Marshal(reply)
	if err != nil {
		log.Printf("client %s: marshal reply: %v", c.id, err)
		return
	}
	if !c.hub.SendToConnection(c.id, msg) {
		log.Printf("client %s: reply dropped, send buffer full", c.id)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
