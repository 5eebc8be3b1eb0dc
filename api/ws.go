package api

import (
	"errors"
	"net/http"
	"time"

	"clipwave/broadcast"
	"clipwave/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	streamBuffer = 32
	echoBuffer   = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream pushes job snapshots over a WebSocket. The current snapshot is
// sent first; client text frames are echoed back.
func (h *Handler) handleStream(c *gin.Context) {
	id := c.Param("id")
	log := zerolog.Ctx(c.Request.Context()).With().Str("job_id", id).Logger()

	// Unknown jobs still get a channel; ownership is only checked for jobs
	// that exist.
	if _, err := h.store.GetOwned(id, c.Query("owner_id")); errors.Is(err, store.ErrAccessDenied) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	obs := broadcast.NewChanObserver(streamBuffer)
	handle := h.broadcaster.Subscribe(id, obs)
	defer func() {
		h.broadcaster.Unsubscribe(handle)
		obs.Close()
	}()

	// Read after subscribing so no update falls between the two.
	var initial *broadcast.Message
	if j, ok := h.store.Get(id); ok {
		initial = &broadcast.Message{Type: broadcast.MessageTypeJobUpdate, JobID: id, Data: j}
	}

	echo := make(chan []byte, echoBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writeLoop(conn, initial, obs.C(), echo, done); err != nil {
			log.Debug().Err(err).Msg("websocket writer stopped")
			// Unblocks the reader below.
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case echo <- data:
		default:
		}
	}
	close(done)
	<-writerDone
}

// writeLoop is the only goroutine that writes to conn.
func writeLoop(conn *websocket.Conn, initial *broadcast.Message, updates <-chan broadcast.Message, echo <-chan []byte, done <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if initial != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			return err
		}
	}

	for {
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case msg, ok := <-updates:
			if !ok {
				return errors.New("subscription closed")
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case data := <-echo:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
