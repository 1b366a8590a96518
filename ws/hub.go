package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub quản lý các kết nối WebSocket theo dõi tiến trình sinh quiz,
// nhóm theo correlation id của từng lần chạy pipeline.
type Hub struct {
	Clients map[string]map[*websocket.Conn]*Client
	Mutex   sync.RWMutex
}

var H = Hub{
	Clients: make(map[string]map[*websocket.Conn]*Client),
}

// Struct gửi trạng thái pipeline của một lần sinh quiz
type GenerationStatusUpdate struct {
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// Register theo correlation id riêng
func (h *Hub) Register(correlationID string, conn *websocket.Conn) {
	h.Mutex.Lock()
	defer h.Mutex.Unlock()

	if _, ok := h.Clients[correlationID]; !ok {
		h.Clients[correlationID] = make(map[*websocket.Conn]*Client)
	}

	client := &Client{
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	h.Clients[correlationID][conn] = client

	go h.writePump(correlationID, conn)
}

func (h *Hub) Unregister(correlationID string, conn *websocket.Conn) {
	h.Mutex.Lock()
	defer h.Mutex.Unlock()

	if clients, ok := h.Clients[correlationID]; ok {
		if client, ok := clients[conn]; ok {
			close(client.Send)
			delete(clients, conn)
		}
		if len(clients) == 0 {
			delete(h.Clients, correlationID)
		}
	}
}

// Broadcast theo correlation id
func (h *Hub) Broadcast(correlationID string, data []byte) {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()

	if clients, ok := h.Clients[correlationID]; ok {
		for _, client := range clients {
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

func (h *Hub) writePump(correlationID string, conn *websocket.Conn) {
	h.Mutex.RLock()
	client, ok := h.Clients[correlationID][conn]
	h.Mutex.RUnlock()
	if !ok {
		return
	}

	for msg := range client.Send {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

// NotifyProgress cho orchestrator gọi khi pipeline chuyển trạng thái
// (implement services.ProgressNotifier).
func (h *Hub) NotifyProgress(correlationID string, state string, errorCode string) {
	update := GenerationStatusUpdate{
		CorrelationID: correlationID,
		State:         state,
		ErrorCode:     errorCode,
	}
	data, err := json.Marshal(update)
	if err != nil {
		log.Println("JSON marshal error:", err)
		return
	}
	h.Broadcast(correlationID, data)
}

// GetStats trả về số kết nối đang mở, dùng cho health check.
func (h *Hub) GetStats() map[string]interface{} {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()

	total := 0
	for _, clients := range h.Clients {
		total += len(clients)
	}
	return map[string]interface{}{
		"generations": len(h.Clients),
		"connections": total,
	}
}
