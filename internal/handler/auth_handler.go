package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/campus-portal-api/internal/handler/dto"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	"github.com/yourusername/campus-portal-api/internal/service"
)

// accessDeniedMessage — единое сообщение для всех отказов в доступе.
// Не раскрывает, отсутствует ли email в whitelist или исчерпаны попытки.
const accessDeniedMessage = "Access denied. Please contact the campus administrator."

// AuthHandler обрабатывает запросы входа: identify, resend, verify, cancel.
type AuthHandler struct {
	loginService   *service.LoginService
	sessionService *service.SessionService
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(loginService *service.LoginService, sessionService *service.SessionService) *AuthHandler {
	return &AuthHandler{
		loginService:   loginService,
		sessionService: sessionService,
	}
}

// IdentifyRequest — первый шаг входа: email и (опционально) идентификатор устройства
type IdentifyRequest struct {
	Email    string `json:"email" binding:"required,email"`
	DeviceID string `json:"device_id" binding:"omitempty,max=64"`
}

// ResendRequest — запрос повторной отправки кода
type ResendRequest struct {
	Email    string `json:"email" binding:"required,email"`
	DeviceID string `json:"device_id" binding:"omitempty,max=64"`
}

// VerifyRequest — проверка кода подтверждения
type VerifyRequest struct {
	Email    string `json:"email" binding:"required,email"`
	DeviceID string `json:"device_id" binding:"omitempty,max=64"`
	Code     string `json:"code" binding:"required,len=6"`
}

// CancelRequest — отмена незавершенного входа
type CancelRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Identify обрабатывает POST /api/auth/identify.
// Доверенное устройство получает сессию сразу, иначе отправляется код.
func (h *AuthHandler) Identify(c *gin.Context) {
	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}

	result, err := h.loginService.Identify(c.Request.Context(), req.Email, req.DeviceID)
	if err != nil {
		h.respondLoginError(c, err, nil)
		return
	}

	if result.Outcome == service.OutcomeSession {
		c.JSON(http.StatusOK, dto.NewSessionResponse(result.DeviceID, result.Session))
		return
	}
	c.JSON(http.StatusOK, pendingResponse(result))
}

// Resend обрабатывает POST /api/auth/code/resend.
// Новый код замещает предыдущий; действует кулдаун от успешной доставки.
func (h *AuthHandler) Resend(c *gin.Context) {
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}

	result, err := h.loginService.Resend(c.Request.Context(), req.Email, req.DeviceID)
	if err != nil {
		h.respondLoginError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, pendingResponse(result))
}

// Verify обрабатывает POST /api/auth/code/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}

	result, err := h.loginService.VerifyCode(c.Request.Context(), req.Email, req.DeviceID, req.Code)
	if err != nil {
		h.respondLoginError(c, err, result)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(req.DeviceID, result.Session))
}

// Cancel обрабатывает POST /api/auth/cancel.
// Уничтожает незавершенную верификацию; идемпотентен.
func (h *AuthHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
		return
	}

	if err := h.loginService.Cancel(req.Email); err != nil {
		h.respondLoginError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Logout обрабатывает POST /api/auth/logout.
// Завершает сессию и рассылает событие остальным вкладкам пользователя.
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID := c.GetString("session_id")
	email := c.GetString("email")
	if sessionID == "" || email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
		return
	}

	if err := h.sessionService.Clear(sessionID, email); err != nil {
		log.Printf("[AuthHandler] Ошибка завершения сессии %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout", "error_type": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

// GetMe обрабатывает GET /api/auth/me.
// Возвращает снимок профиля из claims текущей сессии.
func (h *AuthHandler) GetMe(c *gin.Context) {
	email := c.GetString("email")
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": dto.UserResponse{
			Email:    email,
			Role:     c.GetString("role"),
			CampusID: c.GetString("campus_id"),
			FullName: c.GetString("full_name"),
		},
		"session_id": c.GetString("session_id"),
		"device_id":  c.GetString("device_id"),
	})
}

// pendingResponse строит ответ для исхода "ожидание кода"
func pendingResponse(result *service.IdentifyResult) *dto.PendingCodeResponse {
	return &dto.PendingCodeResponse{
		Status:            string(service.OutcomeAwaitingCode),
		DeviceID:          result.DeviceID,
		Delivered:         result.Delivered,
		CodeExpiresAt:     result.CodeExpiresAt,
		AttemptsLeft:      result.AttemptsLeft,
		ResendCooldownSec: result.ResendCooldownSec,
	}
}

// respondLoginError переводит sentinel-ошибки сервисов в HTTP-ответы.
// Отказ по whitelist и исчерпание попыток дают одинаковый ответ, чтобы
// ответ сервера нельзя было использовать как оракул.
func (h *AuthHandler) respondLoginError(c *gin.Context, err error, verify *service.VerifyResult) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request"})
	case errors.Is(err, service.ErrNotWhitelisted), errors.Is(err, service.ErrAttemptsExhausted):
		c.JSON(http.StatusForbidden, gin.H{"error": accessDeniedMessage, "error_type": "access_denied"})
	case errors.Is(err, service.ErrInvalidCode):
		resp := gin.H{"error": "Invalid verification code", "error_type": "invalid_code"}
		if verify != nil {
			resp["attempts_left"] = verify.AttemptsLeft
		}
		c.JSON(http.StatusUnauthorized, resp)
	case errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification code expired", "error_type": "code_expired"})
	case errors.Is(err, service.ErrNoPendingVerification):
		c.JSON(http.StatusConflict, gin.H{"error": "No login in progress, start over", "error_type": "restart_required"})
	case errors.Is(err, service.ErrResendCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "error_type": "resend_cooldown"})
	case errors.Is(err, service.ErrVerifyInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "Verification already in progress", "error_type": "verify_in_flight"})
	default:
		log.Printf("[AuthHandler] Внутренняя ошибка входа: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
	}
}
