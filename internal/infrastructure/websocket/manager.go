package websocket

import (
	"sync"

	"lokamart/pkg/logger"
)

// Manager tracks live connections per user and per conversation room.
// Delivery through it is best-effort: a slow or missing connection is dropped,
// never retried. Correctness always comes from the pull endpoints.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// RegisterClient attaches a user's connection, replacing any previous one.
func (m *Manager) RegisterClient(client *Client) {
	m.mu.Lock()
	if old, ok := m.clients[client.UserID]; ok {
		old.closeSend()
		m.removeFromRoomsLocked(old)
	}
	m.clients[client.UserID] = client
	m.mu.Unlock()

	logger.Debug("ws: client registered: %s", client.UserID)
}

func (m *Manager) UnregisterClient(client *Client) {
	m.mu.Lock()
	if current, ok := m.clients[client.UserID]; ok && current == client {
		delete(m.clients, client.UserID)
		m.removeFromRoomsLocked(client)
		client.closeSend()
	}
	m.mu.Unlock()

	logger.Debug("ws: client unregistered: %s", client.UserID)
}

func (m *Manager) JoinConversation(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[userID]
	if !ok {
		return
	}
	room, ok := m.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		m.rooms[conversationID] = room
	}
	room[userID] = client
}

func (m *Manager) LeaveConversation(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(m.rooms, conversationID)
	}
}

// PublishToUser delivers to a user's connection if one exists.
func (m *Manager) PublishToUser(userID string, payload []byte) {
	m.mu.RLock()
	client, ok := m.clients[userID]
	m.mu.RUnlock()

	if ok {
		m.send(client, payload)
	}
}

// PublishToConversation broadcasts to every connection joined to the
// conversation's room, except excludeUserID when non-empty.
func (m *Manager) PublishToConversation(conversationID string, payload []byte, excludeUserID string) {
	m.mu.RLock()
	var targets []*Client
	for userID, client := range m.rooms[conversationID] {
		if userID != excludeUserID {
			targets = append(targets, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range targets {
		m.send(client, payload)
	}
}

// send never blocks: a client whose buffer is full is evicted.
func (m *Manager) send(client *Client, payload []byte) {
	if !client.trySend(payload) {
		logger.Warn("ws: client %s send buffer full, dropping connection", client.UserID)
		m.UnregisterClient(client)
	}
}

func (m *Manager) removeFromRoomsLocked(client *Client) {
	for conversationID, room := range m.rooms {
		if room[client.UserID] == client {
			delete(room, client.UserID)
			if len(room) == 0 {
				delete(m.rooms, conversationID)
			}
		}
	}
}
