// Package websocket pushes live session events to connected UI clients:
// segment boundaries as they are detected, per-segment transcription results,
// and the growing transcript.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Message types broadcast to clients
const (
	MessageTypeSessionStarted    = "session_started"
	MessageTypeSessionStopped    = "session_stopped"
	MessageTypeSegmentDetected   = "segment_detected"
	MessageTypeSegmentCompleted  = "segment_completed"
	MessageTypeTranscriptUpdate  = "transcript_update"
	MessageTypeTranscriptReady   = "transcript_ready"
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Client represents a connected WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
}

// Server fans broadcast messages out to all connected clients. Slow clients
// are dropped rather than allowed to stall the broadcast loop.
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tool; all origins allowed
			},
		},
		logger: log.Named("web-socket"),
	}
}

// Run starts the broadcast loop. Call in its own goroutine.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", Int("client_count", count))

		case message := <-s.broadcast:
			s.dispatch(message)
		}
	}
}

// dispatch delivers one message, collecting clients whose send buffer is full
func (s *Server) dispatch(message *Message) {
	var stale []*Client

	s.mu.RLock()
	for client := range s.clients {
		client.mu.Lock()
		closed := client.closed
		client.mu.Unlock()
		if closed {
			stale = append(stale, client)
			continue
		}

		select {
		case client.send <- message:
		default:
			stale = append(stale, client)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	s.mu.Lock()
	for _, client := range stale {
		if _, ok := s.clients[client]; ok {
			delete(s.clients, client)
			client.mu.Lock()
			if !client.closed {
				client.closed = true
				close(client.send)
			}
			client.mu.Unlock()
		}
	}
	s.mu.Unlock()
}

// HandleConnection upgrades an HTTP request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, 256),
		server: s,
	}

	s.register <- client

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for all connected clients
func (s *Server) Broadcast(messageType string, data map[string]any) {
	select {
	case s.broadcast <- &Message{Type: messageType, Data: data}:
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			String("message_type", messageType))
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// readPump drains the connection until it closes. Clients do not send
// application messages; this exists to notice disconnects.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		data, err := json.Marshal(message)
		if err != nil {
			c.server.logger.Error("Failed to marshal message", Error(err))
			continue
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
