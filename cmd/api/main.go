package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/campus-portal-api/internal/config"
	"github.com/yourusername/campus-portal-api/internal/events"
	"github.com/yourusername/campus-portal-api/internal/handler"
	"github.com/yourusername/campus-portal-api/internal/middleware"
	pgRepo "github.com/yourusername/campus-portal-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/campus-portal-api/internal/repository/redis"
	"github.com/yourusername/campus-portal-api/internal/service"
	"github.com/yourusername/campus-portal-api/pkg/auth"
	"github.com/yourusername/campus-portal-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	whitelistRepo := pgRepo.NewWhitelistRepo(db)
	verificationRepo := pgRepo.NewVerificationRepo(db)
	trustedDeviceRepo := pgRepo.NewTrustedDeviceRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Создаем контекст с отменой для корректного завершения работы горутин
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация PubSub для рассылки событий сессии между вкладками ---
	// Отдельное Redis-соединение: подписка блокирует соединение целиком
	var pubSubProvider events.PubSubProvider = events.NewNoOpPubSub()
	redisPubSubClient, errPubSub := database.NewUniversalRedisClient(cfg.Redis)
	if errPubSub != nil {
		log.Printf("Ошибка при инициализации Redis клиента для PubSub: %v. События сессии будут локальными.", errPubSub)
	} else {
		redisProvider, errProv := events.NewRedisPubSub(redisPubSubClient)
		if errProv != nil {
			log.Printf("Ошибка при создании Redis PubSub провайдера: %v. События сессии будут локальными.", errProv)
			redisPubSubClient.Close()
		} else {
			log.Println("Redis PubSub провайдер успешно инициализирован")
			pubSubProvider = redisProvider
		}
	}

	hub := events.NewHub(pubSubProvider)
	go hub.Run(ctx)

	// Инициализируем JWT сервис
	jwtService, err := auth.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.ExpirationHrs)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	// Выбираем провайдера доставки кодов
	var emailService service.EmailService
	switch cfg.Email.Provider {
	case "resend":
		from := cfg.Email.FromEmail
		if cfg.Email.FromName != "" {
			from = cfg.Email.FromName + " <" + cfg.Email.FromEmail + ">"
		}
		emailService, err = service.NewResendEmailService(cfg.Email.APIKey, from)
		if err != nil {
			log.Printf("Failed to initialize ResendEmailService: %v", err)
			os.Exit(1)
		}
	case "noop":
		log.Println("ВНИМАНИЕ: доставка кодов отключена (noop), коды пишутся только в лог")
		emailService = &service.NoopEmailService{}
	default:
		log.Println("ВНИМАНИЕ: провайдер email не настроен, доставка кодов будет падать")
		emailService = &service.UnconfiguredEmailService{}
	}

	// Инициализируем сервисы
	verificationService, err := service.NewVerificationService(
		verificationRepo,
		emailService,
		time.Duration(cfg.Auth.CodeTTLMin)*time.Minute,
		cfg.Auth.MaxAttempts,
		cfg.Auth.CodePepper,
	)
	if err != nil {
		log.Printf("Failed to initialize VerificationService: %v", err)
		os.Exit(1)
	}

	deviceTrustService, err := service.NewDeviceTrustService(trustedDeviceRepo, cfg.Auth.TrustDays)
	if err != nil {
		log.Printf("Failed to initialize DeviceTrustService: %v", err)
		os.Exit(1)
	}

	sessionService, err := service.NewSessionService(cacheRepo, jwtService, pubSubProvider)
	if err != nil {
		log.Printf("Failed to initialize SessionService: %v", err)
		os.Exit(1)
	}

	loginService, err := service.NewLoginService(
		whitelistRepo,
		verificationService,
		deviceTrustService,
		sessionService,
		cacheRepo,
		time.Duration(cfg.Auth.ResendCooldownSec)*time.Second,
	)
	if err != nil {
		log.Printf("Failed to initialize LoginService: %v", err)
		os.Exit(1)
	}

	// Фоновая очистка истекших записей доверия устройств
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()

		log.Println("Запуск периодической очистки истекших trusted-устройств (каждые 6 часов)")

		for {
			select {
			case <-ticker.C:
				removed, err := deviceTrustService.CleanupExpired()
				if err != nil {
					log.Printf("Ошибка при очистке trusted-устройств: %v", err)
				} else if removed > 0 {
					log.Printf("Очистка trusted-устройств: удалено %d записей", removed)
				}
			case <-ctx.Done():
				log.Println("Завершение работы горутины очистки trusted-устройств")
				return
			}
		}
	}()

	// Инициализируем обработчики
	authHandler := handler.NewAuthHandler(loginService, sessionService)
	adminHandler := handler.NewAdminHandler(whitelistRepo, deviceTrustService)
	eventsHandler := handler.NewEventsHandler(hub, jwtService, sessionService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtService, sessionService)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Инициализируем роутер Gin
	router := gin.Default()

	isProduction := gin.Mode() == gin.ReleaseMode

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// В development: доверяем localhost
	if isProduction {
		// Если используете load balancer, замените nil на []string{"IP_БАЛАНСИРОВЩИКА"}
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS (синхронизировано с CheckOrigin в events_handler.go)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://portal.campus.example.edu", "http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Поток входа: identify -> (code/resend)* -> code/verify | cancel
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/identify", rateLimiter.Limit(middleware.DefaultAuthRateLimitConfig()), authHandler.Identify)
			authGroup.POST("/code/resend", rateLimiter.Limit(middleware.StrictAuthRateLimitConfig()), authHandler.Resend)
			authGroup.POST("/code/verify", rateLimiter.Limit(middleware.DefaultAuthRateLimitConfig()), authHandler.Verify)
			authGroup.POST("/cancel", authHandler.Cancel)

			// Маршруты, требующие аутентификации
			authedAuth := authGroup.Group("/")
			authedAuth.Use(authMiddleware.RequireAuth())
			{
				authedAuth.POST("/logout", authHandler.Logout)
				authedAuth.GET("/me", authHandler.GetMe)
			}
		}

		// Административные маршруты: whitelist и доверие устройствам
		admin := api.Group("/admin")
		admin.Use(authMiddleware.RequireAuth(), authMiddleware.AdminOnly())
		{
			admin.GET("/whitelist", adminHandler.ListEntries)
			admin.POST("/whitelist", adminHandler.CreateEntry)
			admin.PUT("/whitelist/:email", adminHandler.UpdateEntry)
			admin.DELETE("/whitelist/:email", adminHandler.DeleteEntry)
			admin.POST("/whitelist/import", adminHandler.ImportWhitelist)
			admin.GET("/whitelist/export", adminHandler.ExportWhitelist)
			admin.POST("/device-trust/revoke", adminHandler.RevokeDeviceTrust)
			admin.GET("/events/metrics", gin.WrapF(events.MetricsHandler(hub)))
		}

		// WebSocket: события сессии (logout в одной вкладке виден остальным)
		api.GET("/events", eventsHandler.HandleConnection)

		api.GET("/health", gin.WrapF(events.HealthCheckHandler(hub)))
	}

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// После получения сигнала SIGINT или SIGTERM вызываем cancel() для завершения горутин
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Отправляем сигнал завершения для всех горутин
	cancel()

	// Закрываем PubSubProvider, если он был создан
	if pubSubProvider != nil {
		if err := pubSubProvider.Close(); err != nil {
			log.Printf("Error closing PubSub provider: %v", err)
		}
	}

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
