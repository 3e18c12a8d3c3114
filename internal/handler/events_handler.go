package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/yourusername/campus-portal-api/internal/events"
	"github.com/yourusername/campus-portal-api/internal/service"
	"github.com/yourusername/campus-portal-api/pkg/auth"
)

// EventsHandler обрабатывает WebSocket-подписку на события сессии.
// Каждая вкладка браузера держит свое соединение; logout в одной вкладке
// доставляется остальным через hub.
type EventsHandler struct {
	hub            *events.Hub
	jwtService     *auth.JWTService
	sessionService *service.SessionService
}

// NewEventsHandler создает новый обработчик событий
func NewEventsHandler(hub *events.Hub, jwtService *auth.JWTService, sessionService *service.SessionService) *EventsHandler {
	return &EventsHandler{
		hub:            hub,
		jwtService:     jwtService,
		sessionService: sessionService,
	}
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Пустой Origin — не браузерный клиент (curl, тесты), разрешаем
		if origin == "" {
			return true
		}

		// Список разрешенных origin (синхронизирован с CORS в main.go)
		allowedOrigins := []string{
			"https://portal.campus.example.edu",
			"http://localhost:5173",
			"http://localhost:3000",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: отклонен неразрешенный origin: %s", origin)
		return false
	},
	EnableCompression: true,
}

// HandleConnection обрабатывает GET /api/events.
// Браузер не может передать Authorization header в WebSocket-запросе,
// поэтому токен принимается через query-параметр.
func (h *EventsHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
		return
	}

	claims, err := h.jwtService.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_invalid"})
		return
	}

	// Сессия могла быть завершена из другой вкладки
	live, err := h.sessionService.IsLive(claims.SessionID)
	if err != nil {
		log.Printf("[EventsHandler] Ошибка проверки сессии %s: %v", claims.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
		return
	}
	if !live {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ended", "error_type": "session_ended"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade сам отправил HTTP-ошибку клиенту
		log.Printf("[EventsHandler] Ошибка upgrade для %s: %v", claims.Email, err)
		return
	}

	client := events.NewClient(h.hub, conn, claims.Email, claims.SessionID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
