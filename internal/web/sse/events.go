// Package sse streams task events to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"

	EventTriggersChanged EventType = "triggers_changed"
	EventLibraryChanged  EventType = "library_changed"

	EventHeartbeat EventType = "heartbeat"
	EventConnected EventType = "connected"
)

// DefaultHeartbeat is how often idle clients receive a heartbeat
const DefaultHeartbeat = 30 * time.Second

// Event represents an SSE event to be sent to clients
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID       string
	Messages chan []byte
}

// Broker manages SSE client connections and event broadcasting
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once
	heartbeat  time.Duration
	mu         sync.RWMutex
}

// NewBroker creates a broker with the default heartbeat
func NewBroker() *Broker {
	return NewBrokerWithHeartbeat(DefaultHeartbeat)
}

// NewBrokerWithHeartbeat creates a broker sending heartbeats at the given interval
func NewBrokerWithHeartbeat(heartbeat time.Duration) *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 100),
		done:       make(chan struct{}),
		heartbeat:  heartbeat,
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(b.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("SSE broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("SSE client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("SSE client disconnected")

		case event := <-b.broadcast:
			b.send(event)

		case now := <-heartbeatTicker.C:
			b.send(Event{Type: EventHeartbeat, Data: map[string]any{"time": now.Unix()}})
		}
	}
}

// send fans an event out to all clients; slow clients miss the event
func (b *Broker) send(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal SSE event")
		return
	}
	message := formatSSEMessage(string(event.Type), data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		select {
		case client.Messages <- message:
		default:
			log.Warn().Str("client_id", client.ID).Msg("SSE client buffer full, dropping message")
		}
	}
}

// Broadcast queues an event for all connected clients without blocking
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("SSE broadcast channel full, dropping event")
	}
}

// Stop shuts the broker down and disconnects every client. It is safe to call twice.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// ServeHTTP streams events to one client until it disconnects or the broker stops
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &Client{
		ID:       uuid.NewString(),
		Messages: make(chan []byte, 32),
	}

	select {
	case b.register <- client:
	case <-b.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	defer func() {
		select {
		case b.unregister <- client:
		case <-b.done:
		}
	}()

	data, _ := json.Marshal(Event{
		Type: EventConnected,
		Data: map[string]any{"client_id": client.ID, "time": time.Now().Unix()},
	})
	_, _ = w.Write(formatSSEMessage(string(EventConnected), data))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func formatSSEMessage(eventType string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data)
}
