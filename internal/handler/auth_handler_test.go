package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	"github.com/yourusername/campus-portal-api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestGinContext создает *gin.Context для тестов с JSON body
func newTestGinContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()

	var req *http.Request
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, path, bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}

	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

// parseJSONResponse парсит JSON ответ из *httptest.ResponseRecorder
func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err, "Response body should be valid JSON: %s", w.Body.String())
	return resp
}

// ============================================================================
// Request validation tests — не требуют реального LoginService.
// Handler возвращает 400 до вызова сервиса
// ============================================================================

func TestIdentify_ValidationErrors(t *testing.T) {
	handler := &AuthHandler{}

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty body", nil},
		{"missing email", map[string]string{"device_id": "device-1"}},
		{"malformed email", map[string]string{"email": "not-an-email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestGinContext(http.MethodPost, "/api/auth/identify", tt.body)

			handler.Identify(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := parseJSONResponse(t, w)
			assert.Equal(t, "invalid_request", resp["error_type"])
		})
	}
}

func TestVerify_ValidationErrors(t *testing.T) {
	handler := &AuthHandler{}

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing code", map[string]string{"email": "student@campus.edu", "device_id": "device-1"}},
		{"code too short", map[string]string{"email": "student@campus.edu", "code": "12345"}},
		{"code too long", map[string]string{"email": "student@campus.edu", "code": "1234567"}},
		{"missing email", map[string]string{"code": "123456"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestGinContext(http.MethodPost, "/api/auth/code/verify", tt.body)

			handler.Verify(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCancel_ValidationErrors(t *testing.T) {
	handler := &AuthHandler{}

	c, w := newTestGinContext(http.MethodPost, "/api/auth/cancel", map[string]string{})

	handler.Cancel(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Тесты маппинга ошибок сервисов в HTTP-ответы
// ============================================================================

func TestRespondLoginError_Mapping(t *testing.T) {
	handler := &AuthHandler{}

	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantErrorType string
	}{
		{"not whitelisted", service.ErrNotWhitelisted, http.StatusForbidden, "access_denied"},
		{"attempts exhausted", service.ErrAttemptsExhausted, http.StatusForbidden, "access_denied"},
		{"invalid code", service.ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
		{"code expired", service.ErrCodeExpired, http.StatusUnauthorized, "code_expired"},
		{"no pending verification", service.ErrNoPendingVerification, http.StatusConflict, "restart_required"},
		{"resend cooldown", service.ErrResendCooldown, http.StatusTooManyRequests, "resend_cooldown"},
		{"verify in flight", service.ErrVerifyInFlight, http.StatusConflict, "verify_in_flight"},
		{"validation", apperrors.ErrValidation, http.StatusBadRequest, "invalid_request"},
		{"unknown error", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestGinContext(http.MethodPost, "/api/auth/identify", nil)

			handler.respondLoginError(c, tt.err, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := parseJSONResponse(t, w)
			assert.Equal(t, tt.wantErrorType, resp["error_type"])
		})
	}
}

// Отказ по whitelist и исчерпание попыток неразличимы снаружи
func TestRespondLoginError_NoAccessOracle(t *testing.T) {
	handler := &AuthHandler{}

	c1, w1 := newTestGinContext(http.MethodPost, "/api/auth/identify", nil)
	handler.respondLoginError(c1, service.ErrNotWhitelisted, nil)

	c2, w2 := newTestGinContext(http.MethodPost, "/api/auth/code/verify", nil)
	handler.respondLoginError(c2, service.ErrAttemptsExhausted, nil)

	assert.Equal(t, w1.Code, w2.Code)
	assert.JSONEq(t, w1.Body.String(), w2.Body.String())
}

func TestRespondLoginError_InvalidCodeCarriesAttemptsLeft(t *testing.T) {
	handler := &AuthHandler{}

	c, w := newTestGinContext(http.MethodPost, "/api/auth/code/verify", nil)
	handler.respondLoginError(c, service.ErrInvalidCode, &service.VerifyResult{AttemptsLeft: 3})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := parseJSONResponse(t, w)
	assert.EqualValues(t, 3, resp["attempts_left"])
}
