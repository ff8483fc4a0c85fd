package chatws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
)

// Hub tracks connected clients per user and owns fan-out to all of a user's
// connections. All hub state is confined to the Run goroutine.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	watchers   map[int64]func()
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}
}

type outbound struct {
	userID  int64
	payload []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		watchers:   make(map[int64]func()),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 64),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and deliveries until ctx is cancelled, then
// closes every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.watchNotifications(client)
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.sendToUser(message.userID, message.payload)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToUser queues event for every connection of userID.
func (h *Hub) SendToUser(userID int64, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("chat hub encode %s event: %v", event.Type, err)
		return
	}
	select {
	case h.broadcast <- outbound{userID: userID, payload: payload}:
	case <-h.done:
	}
}

// watchNotifications forwards a user's notification list to all of that
// user's connections, once per user however many tabs are open.
func (h *Hub) watchNotifications(client *Client) {
	if client.notifications == nil {
		return
	}
	if _, ok := h.watchers[client.userID]; ok {
		return
	}
	userID := client.userID
	service := client.notifications
	h.watchers[userID] = service.OnChange(func(entries []models.NotificationEntry) {
		h.SendToUser(userID, Event{
			Type: EventNotification,
			Data: notifications.NewListView(entries, service.Now()),
		})
	})
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		client.closeSend()
	}
	if len(set) == 0 {
		h.forget(client.userID)
	}
}

func (h *Hub) forget(userID int64) {
	delete(h.clients, userID)
	if cancel, ok := h.watchers[userID]; ok {
		cancel()
		delete(h.watchers, userID)
	}
}

func (h *Hub) sendToUser(userID int64, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		if !client.enqueue(payload) {
			delete(set, client)
			client.closeSend()
		}
	}
	if len(set) == 0 {
		h.forget(userID)
	}
}

func (h *Hub) shutdown() {
	for userID, set := range h.clients {
		for client := range set {
			client.closeSend()
		}
		h.forget(userID)
	}
}
