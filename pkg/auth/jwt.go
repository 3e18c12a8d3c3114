package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// JWTCustomClaims содержит пользовательские поля для токена сессии.
// Снимок данных белого списка фиксируется в момент входа.
type JWTCustomClaims struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CampusID  string `json:"campus_id"`
	FullName  string `json:"full_name"`
	DeviceID  string `json:"device_id"`
	jwt.RegisteredClaims
}

// JWTService предоставляет методы для работы с JWT сессионными токенами
type JWTService struct {
	signingKey []byte
	expiry     time.Duration
}

// NewJWTService создает новый сервис JWT и возвращает ошибку при проблемах
func NewJWTService(signingKey string, expirationHrs int) (*JWTService, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("signing key is required for JWTService")
	}
	if expirationHrs <= 0 {
		expirationHrs = 24
	}
	return &JWTService{
		signingKey: []byte(signingKey),
		expiry:     time.Duration(expirationHrs) * time.Hour,
	}, nil
}

// Expiry возвращает время жизни сессионного токена
func (s *JWTService) Expiry() time.Duration {
	return s.expiry
}

// GenerateToken выпускает подписанный токен сессии
func (s *JWTService) GenerateToken(sessionID, email, role, campusID, fullName, deviceID string) (string, error) {
	now := time.Now()
	claims := JWTCustomClaims{
		SessionID: sessionID,
		Email:     email,
		Role:      role,
		CampusID:  campusID,
		FullName:  fullName,
		DeviceID:  deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена, возвращает claims
func (s *JWTService) ParseToken(tokenString string) (*JWTCustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTCustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
