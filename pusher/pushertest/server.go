// Package pushertest runs an in-process stand-in for the hosted service:
// a websocket endpoint speaking the client protocol and an auth endpoint
// that signs private channel subscriptions.
package pushertest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frame is an event received from a client.
type Frame struct {
	SocketID string
	Event    string
	Channel  string
	Data     json.RawMessage
}

type Server struct {
	appKey     string
	secret     string
	handshake  bool
	authDelay  time.Duration
	bufferSize int

	httpServer *httptest.Server
	upgrader   websocket.Upgrader
	rooms      *rooms

	mu      sync.RWMutex
	sockets map[string]*conn
	frames  []Frame
	accepts int
}

type Option func(*Server)

func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithoutHandshake accepts sockets but never sends connection_established,
// so clients hit their connect timeout.
func WithoutHandshake() Option {
	return func(s *Server) {
		s.handshake = false
	}
}

func WithAuthDelay(d time.Duration) Option {
	return func(s *Server) {
		s.authDelay = d
	}
}

// NewServer starts a server for appKey. Close it when done.
func NewServer(appKey string, opts ...Option) *Server {
	s := &Server{
		appKey:     appKey,
		secret:     "secret",
		handshake:  true,
		bufferSize: 64,
		rooms:      newRooms(),
		sockets:    make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/app/", s.handleSocket)
	mux.HandleFunc("/auth", s.handleAuth)
	s.httpServer = httptest.NewServer(mux)

	return s
}

// Host returns the host clients should dial.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.httpServer.Listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.httpServer.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// AuthURL is the endpoint that signs private channel subscriptions.
func (s *Server) AuthURL() string {
	return s.httpServer.URL + "/auth"
}

// Signature is the auth token the server expects for socketID on channel.
func (s *Server) Signature(socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(socketID + ":" + channel))
	return s.appKey + ":" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/app/") != s.appKey {
		http.Error(w, "Unknown application", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(uuid.NewString(), ws, s.bufferSize)

	s.mu.Lock()
	s.sockets[c.socketID] = c
	s.accepts++
	s.mu.Unlock()

	if s.handshake {
		payload, _ := json.Marshal(map[string]string{"socket_id": c.socketID})
		c.write(encode("pusher:connection_established", string(payload), ""))
	}

	go s.serve(c)
}

func (s *Server) serve(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.sockets, c.socketID)
		s.mu.Unlock()
		s.rooms.leaveAll(c.socketID)
		c.close()
	}()

	for {
		data, err := c.read()
		if err != nil {
			return
		}

		var msg struct {
			Event   string          `json:"event"`
			Data    json.RawMessage `json:"data"`
			Channel string          `json:"channel"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.write(encode("pusher:error", map[string]any{"message": "Invalid JSON", "code": 4200}, ""))
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, Frame{SocketID: c.socketID, Event: msg.Event, Channel: msg.Channel, Data: msg.Data})
		s.mu.Unlock()

		switch {
		case msg.Event == "pusher:subscribe":
			s.subscribe(c, msg.Data)
		case msg.Event == "pusher:unsubscribe":
			var req struct {
				Channel string `json:"channel"`
			}
			if json.Unmarshal(msg.Data, &req) == nil {
				s.rooms.leave(req.Channel, c.socketID)
			}
		case strings.HasPrefix(msg.Event, "client-"):
			if s.rooms.isMember(msg.Channel, c.socketID) {
				var data any
				_ = json.Unmarshal(msg.Data, &data)
				s.rooms.broadcast(msg.Channel, encode(msg.Event, data, msg.Channel), c.socketID)
			}
		}
	}
}

func (s *Server) subscribe(c *conn, raw json.RawMessage) {
	var req struct {
		Channel string  `json:"channel"`
		Auth    *string `json:"auth"`
	}
	if err := json.Unmarshal(raw, &req); err != nil || req.Channel == "" {
		c.write(encode("pusher:error", map[string]any{"message": "Invalid subscribe", "code": 4200}, ""))
		return
	}

	if strings.HasPrefix(req.Channel, "private-") {
		if req.Auth == nil || *req.Auth != s.Signature(c.socketID, req.Channel) {
			c.write(encode("pusher:error", map[string]any{
				"message": "Invalid signature: Expected HMAC SHA256 hex digest of " + c.socketID + ":" + req.Channel,
				"code":    4009,
			}, ""))
			return
		}
	}

	s.rooms.join(req.Channel, c)
	c.write(encode("pusher_internal:subscription_succeeded", "{}", req.Channel))
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.authDelay > 0 {
		select {
		case <-time.After(s.authDelay):
		case <-r.Context().Done():
			return
		}
	}

	socketID := r.URL.Query().Get("socket_id")
	channel := r.URL.Query().Get("channel_name")
	if socketID == "" || channel == "" {
		http.Error(w, "socket_id and channel_name are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"auth": s.Signature(socketID, channel)})
}

// Publish sends an event to every socket subscribed to channel. The data is
// JSON encoded into a string, the way the service delivers it.
func (s *Server) Publish(channel, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.rooms.broadcast(channel, encode(event, string(payload), channel), "")
	return nil
}

// SendRaw writes a frame verbatim to the socket socketID.
func (s *Server) SendRaw(socketID string, frame []byte) bool {
	s.mu.RLock()
	c, exists := s.sockets[socketID]
	s.mu.RUnlock()
	if exists {
		c.write(frame)
	}
	return exists
}

// DropAll closes every socket without a close handshake.
func (s *Server) DropAll() {
	s.mu.RLock()
	sockets := make([]*conn, 0, len(s.sockets))
	for _, c := range s.sockets {
		sockets = append(sockets, c)
	}
	s.mu.RUnlock()

	for _, c := range sockets {
		c.close()
	}
}

func (s *Server) Frames() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frames := make([]Frame, len(s.frames))
	copy(frames, s.frames)
	return frames
}

// FramesFor returns the frames with the given event name.
func (s *Server) FramesFor(event string) []Frame {
	var out []Frame
	for _, f := range s.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) SocketIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sockets))
	for id := range s.sockets {
		ids = append(ids, id)
	}
	return ids
}

// Accepts counts websocket connections accepted since start.
func (s *Server) Accepts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepts
}

func (s *Server) Subscribers(channel string) []string {
	return s.rooms.subscribers(channel)
}

func (s *Server) Close() {
	s.DropAll()
	s.httpServer.Close()
}

func encode(event string, data any, channel string) []byte {
	msg := map[string]any{"event": event, "data": data}
	if channel != "" {
		msg["channel"] = channel
	}
	frame, _ := json.Marshal(msg)
	return frame
}
