package transfer

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// time allowed to write a single frame to the peer
var WriteWait = 10 * time.Second

type wsConn struct {
	ws        *websocket.Conn
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebsocketConn adapts an upgraded websocket. Control frames are surfaced as frames instead of
// being answered automatically: the session replies to pings and echoes the close itself.
// readLimit bounds the size of one inbound message, 0 means no limit.
func NewWebsocketConn(ws *websocket.Conn, readLimit int64) Conn {
	c := &wsConn{
		ws:     ws,
		frames: make(chan Frame, 16),
		done:   make(chan struct{}),
	}
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	ws.SetPingHandler(func(data string) error {
		c.push(Frame{Type: FramePing, Data: []byte(data)})
		return nil
	})
	ws.SetPongHandler(func(data string) error {
		c.push(Frame{Type: FramePong, Data: []byte(data)})
		return nil
	})
	ws.SetCloseHandler(func(code int, text string) error {
		return nil
	})
	go c.readLoop()
	return c
}

func (c *wsConn) Frames() <-chan Frame {
	return c.frames
}

func (c *wsConn) push(f Frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				var reason *CloseReason
				if ce.Code != websocket.CloseNoStatusReceived {
					reason = &CloseReason{Code: ce.Code, Description: ce.Text}
				}
				c.push(Frame{Type: FrameClose, Close: reason})
			} else {
				logger.Trace().Err(err).Msg("websocket read ended")
			}
			return
		}
		f := Frame{Type: FrameOther, Data: data}
		switch mt {
		case websocket.TextMessage:
			f.Type = FrameText
		case websocket.BinaryMessage:
			f.Type = FrameBinary
		}
		if !c.push(f) {
			return
		}
	}
}

func (c *wsConn) WriteText(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping(data []byte) error {
	return c.ws.WriteControl(websocket.PingMessage, data, time.Now().Add(WriteWait))
}

func (c *wsConn) Pong(data []byte) error {
	return c.ws.WriteControl(websocket.PongMessage, data, time.Now().Add(WriteWait))
}

func (c *wsConn) Close(reason *CloseReason) error {
	var err error
	c.closeOnce.Do(func() {
		var payload []byte
		if reason != nil {
			payload = websocket.FormatCloseMessage(reason.Code, reason.Description)
		}
		err = c.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(WriteWait))
		close(c.done)
		if cerr := c.ws.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
