package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/service"
	"github.com/yourusername/campus-portal-api/pkg/auth"
)

// AuthMiddleware обеспечивает аутентификацию для защищенных маршрутов
type AuthMiddleware struct {
	jwtService     *auth.JWTService
	sessionService *service.SessionService
}

// NewAuthMiddleware создает новый middleware аутентификации
func NewAuthMiddleware(jwtService *auth.JWTService, sessionService *service.SessionService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService:     jwtService,
		sessionService: sessionService,
	}
}

// RequireAuth проверяет токен сессии и то, что сессия все еще жива
// (не завершена из другой вкладки)
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
			c.Abort()
			return
		}

		// Проверяем формат заголовка Bearer {token}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}", "error_type": "token_format"})
			c.Abort()
			return
		}

		claims, err := m.jwtService.ParseToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_type": "token_invalid"})
			c.Abort()
			return
		}

		// Токен валиден, но сессия могла быть завершена из другой вкладки
		live, err := m.sessionService.IsLive(claims.SessionID)
		if err != nil {
			log.Printf("[AuthMiddleware] session registry check failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Session check failed", "error_type": "internal_server_error"})
			c.Abort()
			return
		}
		if !live {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session ended", "error_type": "session_ended"})
			c.Abort()
			return
		}

		c.Set("session_id", claims.SessionID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Set("device_id", claims.DeviceID)
		c.Set("full_name", claims.FullName)
		c.Set("campus_id", claims.CampusID)

		c.Next()
	}
}

// AdminOnly проверяет, что роль в сессии — администратор
func (m *AuthMiddleware) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		if role.(string) != entity.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin rights required", "error_type": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
