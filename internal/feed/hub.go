package feed

import (
	"sync"

	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/rs/zerolog/log"
)

const broadcastBufferSize = 256

// Hub fans newly stored images out to every connected feed client.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *images.Image
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *images.Image, broadcastBufferSize),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case img := <-h.broadcast:
			h.broadcastImage(img)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	client.enqueue(&OutgoingMessage{
		Type:     MessageTypeConnected,
		ClientID: client.id,
	})

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[Feed] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	client.close()

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[Feed] Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}

func (h *Hub) broadcastImage(img *images.Image) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := &ImageMessage{Type: MessageTypeImageStored, Image: img}
	for _, client := range clients {
		if !client.enqueue(msg) {
			log.Warn().
				Str("clientId", client.id).
				Str("imageId", img.ID).
				Msg("[Feed] Client send buffer full, dropping message")
		}
	}

	log.Debug().
		Str("imageId", img.ID).
		Int("recipients", len(clients)).
		Msg("[Feed] Image broadcast complete")
}

// Register blocks until the hub has accepted the client, so a caller may rely on
// receiving every image stored afterwards. A stopped hub refuses with false.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ImageStored queues the image for broadcast without blocking the uploader.
func (h *Hub) ImageStored(img *images.Image) {
	select {
	case h.broadcast <- img:
	default:
		log.Warn().Str("imageId", img.ID).Msg("[Feed] Broadcast queue full, dropping image")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
