package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/protocol"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// Conn wraps one WebSocket connection. A read pump decodes client frames
// and posts them to the session actor; a write pump drains the send queue
// and emits application-level pings. The actor never writes to the socket
// directly, only to the queue.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	// Set by bind before the pumps start.
	sess     *Session
	role     string
	playerID string

	signalOnce sync.Once
	finishOnce sync.Once
	closed     chan struct{}
	closeCode  int
	closeText  string

	onClose func()
}

// NewConn wraps an upgraded socket. onClose runs exactly once when the
// connection is torn down, whichever side initiates it.
func NewConn(ws *websocket.Conn, queueSize int, heartbeatInterval, heartbeatTimeout time.Duration, logger zerolog.Logger, onClose func()) *Conn {
	return &Conn{
		ws:                ws,
		send:              make(chan []byte, queueSize),
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		closed:            make(chan struct{}),
		onClose:           onClose,
	}
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// PlayerID returns the player bound to this connection, if any.
func (c *Conn) PlayerID() string {
	return c.playerID
}

// ReadInit reads the first frame, which must arrive within timeout and must
// be an init message. Called before the pumps start.
func (c *Conn) ReadInit(timeout time.Duration) (*protocol.Init, *protocol.WireError) {
	c.ws.SetReadLimit(protocol.MaxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, protocol.NewError(protocol.ErrAuthRequired, "expected init frame")
	}
	msg, werr := protocol.DecodeClient(data)
	if werr != nil {
		return nil, werr
	}
	init, ok := msg.(*protocol.Init)
	if !ok {
		return nil, protocol.NewError(protocol.ErrAuthRequired, "first frame must be init")
	}
	return init, nil
}

// Reject writes an error frame and closes the socket. Only valid before the
// pumps start.
func (c *Conn) Reject(code protocol.ErrorCode, message string) {
	if frame, err := protocol.Encode(protocol.NewError(code, message).Frame()); err == nil {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.TextMessage, frame)
	}
	c.signalOnce.Do(func() {
		c.closeCode = closeCodeFor(code)
		c.closeText = string(code)
		close(c.closed)
	})
	msg := websocket.FormatCloseMessage(closeCodeFor(code), string(code))
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.finish()
}

func (c *Conn) bind(sess *Session, role, playerID string) {
	c.sess = sess
	c.role = role
	c.playerID = playerID
}

// Start launches the read and write pumps. Call exactly once, after a
// successful attach.
func (c *Conn) Start() {
	go c.writePump()
	go c.readPump()
}

// Enqueue queues a frame for delivery. A full queue means the client cannot
// keep up; the connection is closed and false is returned so the caller can
// drop the player.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		monitoring.SendQueueDrops.Inc()
		c.logger.Warn().Str("remote", c.RemoteAddr()).Msg("send queue full, dropping connection")
		c.shutdown(websocket.ClosePolicyViolation, string(protocol.ErrSlowConsumer))
		return false
	}
}

// CloseWithError pushes a final error frame and closes the connection.
func (c *Conn) CloseWithError(code protocol.ErrorCode, message string) {
	if frame, err := protocol.Encode(protocol.NewError(code, message).Frame()); err == nil {
		select {
		case c.send <- frame:
		default:
		}
	}
	c.shutdown(closeCodeFor(code), string(code))
}

// CloseNormal closes the connection with a normal closure code.
func (c *Conn) CloseNormal(reason string) {
	c.shutdown(websocket.CloseNormalClosure, reason)
}

func (c *Conn) shutdown(code int, text string) {
	c.signalOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.closed)
	})
}

func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		c.ws.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Conn) serverClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) readPump() {
	defer monitoring.RecoverPanic(c.logger, "conn read")
	defer c.finish()

	c.ws.SetReadLimit(protocol.MaxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.serverClosed() {
				return
			}
			reason := protocol.ErrorCode("")
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = protocol.ErrHeartbeatTimeout
				monitoring.HeartbeatTimeouts.Inc()
				c.shutdown(websocket.ClosePolicyViolation, string(reason))
			} else {
				c.shutdown(websocket.CloseNormalClosure, "")
			}
			if c.sess != nil {
				c.sess.post(cmdDisconnect{conn: c, reason: reason})
			}
			return
		}

		// Any inbound frame counts as liveness.
		c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

		msg, werr := protocol.DecodeClient(data)
		if werr != nil {
			monitoring.MessagesReceived.WithLabelValues("invalid").Inc()
			c.Enqueue(protocol.MustEncode(werr.Frame()))
			continue
		}
		monitoring.MessagesReceived.WithLabelValues(string(protocol.MessageTypeOf(msg))).Inc()

		switch msg.(type) {
		case *protocol.Pong:
			// Deadline already pushed above.
		case *protocol.Init:
			c.Enqueue(protocol.MustEncode(protocol.BadMessage("connection already initialized").Frame()))
		default:
			if c.sess != nil {
				c.sess.post(cmdClient{conn: c, msg: msg})
			}
		}
	}
}

func (c *Conn) writePump() {
	defer monitoring.RecoverPanic(c.logger, "conn write")
	ticker := time.NewTicker(c.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.finish()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				c.notifyDisconnect("")
				return
			}
			monitoring.MessagesSent.Inc()

		case <-ticker.C:
			ping := protocol.MustEncode(protocol.Ping{
				Envelope: protocol.Envelope{Type: protocol.TypePing},
				T:        time.Now().UnixMilli(),
			})
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				c.notifyDisconnect("")
				return
			}
			monitoring.MessagesSent.Inc()

		case <-c.closed:
			c.drain()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes queued frames before the close handshake so a final error
// or session_ended frame is not lost.
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			monitoring.MessagesSent.Inc()
		default:
			return
		}
	}
}

func (c *Conn) notifyDisconnect(reason protocol.ErrorCode) {
	if c.sess != nil {
		c.sess.post(cmdDisconnect{conn: c, reason: reason})
	}
}

func closeCodeFor(code protocol.ErrorCode) int {
	switch code {
	case protocol.ErrSlowConsumer, protocol.ErrHeartbeatTimeout,
		protocol.ErrAuthRequired, protocol.ErrAuthInvalid, protocol.ErrForbidden:
		return websocket.ClosePolicyViolation
	case protocol.ErrInternal:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseNormalClosure
	}
}
