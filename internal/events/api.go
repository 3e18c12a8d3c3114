package events

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// MetricsProvider — источник метрик хаба для HTTP-эндпоинтов.
type MetricsProvider interface {
	GetMetrics() map[string]interface{}
	ClientCount() int
}

// MetricsHandler возвращает обработчик для получения базовых метрик хаба
func MetricsHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := provider.GetMetrics()

		// Добавляем время генерации метрик
		metrics["generated_at"] = time.Now().Format(time.RFC3339)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics); err != nil {
			log.Printf("[EventsAPI] Ошибка кодирования метрик: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// HealthCheckHandler возвращает обработчик для проверки состояния сервиса
func HealthCheckHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK
		clientCount := 0

		if provider != nil {
			clientCount = provider.ClientCount()
		} else {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":             status,
			"active_connections": clientCount,
		}); err != nil {
			log.Printf("[EventsAPI] Ошибка кодирования health-ответа: %v", err)
		}
	}
}
