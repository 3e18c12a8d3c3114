package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub раздает события сессий подключенным вкладкам портала. Клиенты
// группируются по email: выход из системы в одной вкладке доставляется во
// все остальные вкладки того же аккаунта (и на всех инстансах API через
// PubSubProvider).
type Hub struct {
	provider PubSubProvider

	register   chan *Client
	unregister chan *Client

	// clients сгруппированы по email аккаунта
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	started time.Time
}

// NewHub создает новый хаб событий сессий
func NewHub(provider PubSubProvider) *Hub {
	return &Hub{
		provider:   provider,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[string]map[*Client]bool),
		started:    time.Now(),
	}
}

// Register ставит клиента в очередь на регистрацию в хабе
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Run обрабатывает регистрацию клиентов и события из pub/sub до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	eventCh, err := h.provider.Subscribe(ctx, SessionChannel)
	if err != nil {
		log.Printf("[EventsHub] failed to subscribe to %s: %v", SessionChannel, err)
		return
	}

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case payload, ok := <-eventCh:
			if !ok {
				return
			}
			h.dispatch(payload)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.Email] == nil {
		h.clients[client.Email] = make(map[*Client]bool)
	}
	h.clients[client.Email][client] = true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[client.Email]; ok {
		if conns[client] {
			delete(conns, client)
			close(client.send)
		}
		if len(conns) == 0 {
			delete(h.clients, client.Email)
		}
	}
}

// dispatch разбирает событие и доставляет его всем вкладкам аккаунта.
// Вкладка, инициировавшая выход, тоже получает событие; это безвредно.
func (h *Hub) dispatch(payload []byte) {
	var event SessionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[EventsHub] malformed session event: %v", err)
		return
	}
	if event.Type != EventSignedOut {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[event.Email] {
		select {
		case client.send <- payload:
		default:
			// Буфер вкладки переполнен; она узнает о выходе при следующем запросе
			log.Printf("[EventsHub] dropping event for slow client %s", client.ConnectionID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for email, conns := range h.clients {
		for client := range conns {
			close(client.send)
		}
		delete(h.clients, email)
	}
}

// ClientCount возвращает количество подключенных вкладок
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// GetMetrics возвращает базовые метрики хаба
func (h *Hub) GetMetrics() map[string]interface{} {
	h.mu.RLock()
	accounts := len(h.clients)
	h.mu.RUnlock()

	return map[string]interface{}{
		"active_connections": h.ClientCount(),
		"accounts_online":    accounts,
		"uptime_sec":         int(time.Since(h.started).Seconds()),
	}
}
