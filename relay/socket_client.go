// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 8) / 10

	// If more than this many messages are queued for sending, the
	// socket is congested and messages may be dropped
	socketCongestionThreshold = 5

	// Allows ~1 second of messages to backup before close
	socketBufferSize = 16

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: time.Second,
	ReadBufferSize:   maxMessageSize,
	WriteBufferSize:  2048,
}

// SocketClient is a middleman between the websocket connection and the hub.
type SocketClient struct {
	ClientData
	conn    *websocket.Conn
	send    chan outbound
	done    chan struct{}
	once    sync.Once
	counter int // counts up every send
}

// NewSocketClient wraps an upgraded connection. The session id was taken
// from the upgrade URL; the connection stays Pending until init validates it.
func NewSocketClient(conn *websocket.Conn, sessionID string) *SocketClient {
	client := &SocketClient{
		conn: conn,
		send: make(chan outbound, socketBufferSize),
		done: make(chan struct{}),
	}
	client.Session = sessionID
	client.ConnID = uuid.NewString()
	return client
}

// Close stops the write pump. Only the hub goroutine calls it, during
// unregistration. The send channel itself is never closed so that late
// Sends from handler goroutines are harmless.
func (client *SocketClient) Close() {
	close(client.done)
}

func (client *SocketClient) Data() *ClientData {
	return &client.ClientData
}

func (client *SocketClient) Destroy() {
	client.once.Do(func() {
		hub := client.Hub

		// Needs to go through when called on hub goroutine.
		select {
		case hub.unregister <- client:
		default:
			go func() {
				hub.unregister <- client
			}()
		}

		_ = client.conn.Close()
	})
}

// CloseWithCode performs the application-level close handshake (control
// frames may be written concurrently with the write pump) and destroys the
// client.
func (client *SocketClient) CloseWithCode(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = client.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	client.Destroy()
}

func (client *SocketClient) Init() {
	go client.writePump()
	go client.readPump()
}

func (client *SocketClient) Send(message outbound) {
	if client.Status() == statusClosed {
		return
	}

	// How many messages there are in excess of a reasonable amount
	congestion := len(client.send) - socketCongestionThreshold

	// The closer the buffer is to being full, the more messages
	// we drop on the floor (to give the socket a chance to
	// catch up)
	client.counter++
	if congestion > 1 && client.counter%congestion != 0 {
		client.Hub.log.Debug().Str("conn", client.ConnID).Msg("dropping message due to congestion")
		return
	}

	select {
	case client.send <- message:
	default:
		// Not responsive
		client.Hub.log.Debug().Str("conn", client.ConnID).Msg("socket is not responsive")
		client.Destroy()
	}
}

// readPump decodes frames and processes them in arrival order on this
// goroutine, so identity and cache I/O block only this connection. Frames
// that fail to decode are dropped without closing the connection.
func (client *SocketClient) readPump() {
	hub := client.Hub
	defer client.Destroy()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				hub.log.Debug().Err(err).Str("conn", client.ConnID).Msg("read error")
			}
			break
		}

		in, err := decodeInbound(data)
		if err != nil {
			hub.log.Debug().Err(err).Str("conn", client.ConnID).Msg("unparseable message")
			continue
		}

		in.Process(hub, client)
	}
}

func (client *SocketClient) writePump() {
	hub := client.Hub
	pingTicker := time.NewTicker(pingPeriod)

	defer func() {
		pingTicker.Stop()
		client.Destroy()
	}()

	for {
		select {
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case message := <-client.send:
			buf, err := json.Marshal(message)
			if err != nil {
				hub.log.Error().Err(err).Str("conn", client.ConnID).Msg("marshal outbound")
				continue
			}

			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-pingTicker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
