package pushertest

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one accepted client socket with its own write pump.
type conn struct {
	socketID     string
	ws           *websocket.Conn
	sendCh       chan []byte
	closeCh      chan struct{}
	writeWg      sync.WaitGroup
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

func newConn(socketID string, ws *websocket.Conn, bufferSize int) *conn {
	c := &conn{
		socketID:     socketID,
		ws:           ws,
		sendCh:       make(chan []byte, bufferSize),
		closeCh:      make(chan struct{}),
		writeTimeout: 5 * time.Second,
	}

	c.writeWg.Add(1)
	go c.writePump()

	return c
}

func (c *conn) writePump() {
	defer c.writeWg.Done()

	for {
		select {
		case <-c.closeCh:
			return
		case message := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				go c.close()
				return
			}
		}
	}
}

func (c *conn) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.sendCh <- data:
	default:
		go c.close()
	}
}

func (c *conn) read() ([]byte, error) {
	_, message, err := c.ws.ReadMessage()
	return message, err
}

// close shuts the socket without a close handshake, like a dropped link.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	c.writeWg.Wait()
	return c.ws.Close()
}
