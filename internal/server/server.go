package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/chat"
	"tabletop-backend/internal/config"
	"tabletop-backend/internal/handler"
	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/presence"
	"tabletop-backend/internal/registry"
	"tabletop-backend/internal/scene"
	"tabletop-backend/internal/storage"
	"tabletop-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB
	hub            *hub.Hub
	registry       *registry.Registry
	presence       *presence.Manager
	sandboxHandler *handler.SandboxHandler
	imageHandler   *handler.ImageHandler
	tokenHandler   *handler.TokenHandler
	chatHandler    *handler.ChatHandler
	wsHandler      *handler.SandboxWSHandler
	healthHandler  *handler.HealthHandler
	jwtManager     *auth.JWTManager
	localStorage   *storage.Local
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Tabletop Session Gateway",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             int(cfg.Upload.MaxFileSize) + 1024*1024,
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Presence 미러 초기화 (선택적)
	var presenceManager *presence.Manager
	if cfg.Redis.Addr != "" {
		var err error
		presenceManager, err = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (presence mirror disabled)", err)
			presenceManager = nil
		}
	} else {
		log.Println("ℹ️ Redis not configured (presence mirror disabled)")
	}

	// 스토리지 초기화 (S3 설정이 있으면 S3, 없으면 로컬 디스크)
	var storageSvc storage.Service
	var localStorage *storage.Local
	if cfg.S3.BucketName != "" {
		s3Svc, err := storage.NewS3(context.Background(), storage.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.BucketName,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKeyID,
			SecretKey: cfg.S3.SecretAccessKey,
			URLExpiry: cfg.S3.PresignExpiry,
		})
		if err != nil {
			log.Fatalf("❌ S3 initialization failed: %v", err)
		}
		storageSvc = s3Svc
		log.Printf("✅ S3 storage initialized (bucket: %s)", cfg.S3.BucketName)
	} else {
		local, err := storage.NewLocal(cfg.Upload.Dir)
		if err != nil {
			log.Fatalf("❌ Local storage initialization failed: %v", err)
		}
		storageSvc = local
		localStorage = local
		log.Printf("✅ Local storage initialized (dir: %s)", cfg.Upload.Dir)
	}

	wsHub := hub.New()
	var mirror registry.Mirror
	if presenceManager != nil {
		mirror = presenceManager
	}
	reg := registry.New(wsHub, mirror)

	st := store.New(db)
	sceneSvc := scene.NewService(st, wsHub)
	chatRouter := chat.NewRouter(st, wsHub, reg)

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		hub:            wsHub,
		registry:       reg,
		presence:       presenceManager,
		sandboxHandler: handler.NewSandboxHandler(st, jwtManager),
		imageHandler:   handler.NewImageHandler(st, storageSvc, sceneSvc, wsHub, reg, cfg.Upload),
		tokenHandler:   handler.NewTokenHandler(st, sceneSvc, reg),
		chatHandler:    handler.NewChatHandler(chatRouter),
		wsHandler:      handler.NewSandboxWSHandler(reg, sceneSvc, chatRouter, wsHub),
		healthHandler:  handler.NewHealthHandler(db, presenceManager),
		jwtManager:     jwtManager,
		localStorage:   localStorage,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	// 정적 파일 제공 (로컬 스토리지 사용 시)
	if s.localStorage != nil {
		s.app.Static("/uploads", s.localStorage.BaseDir())
	}
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Sandbox 라우트 그룹
	api := s.app.Group("/api/sandboxes")
	api.Post("/", s.sandboxHandler.CreateSandbox)
	api.Get("/:sandboxId", s.sandboxHandler.GetSandbox)
	api.Post("/:sandboxId/users", authLimiter, s.sandboxHandler.CreateUser)
	api.Post("/:sandboxId/login", authLimiter, s.sandboxHandler.Login)

	// 인증 필요한 라우트 (토큰의 sandbox와 URL의 sandbox 일치 확인)
	authed := s.app.Group("/api/sandboxes/:sandboxId",
		auth.AuthMiddleware(s.jwtManager), auth.SandboxMiddleware())
	authed.Get("/users", s.sandboxHandler.ListUsers)
	authed.Put("/users/:userId", s.sandboxHandler.UpdateUserName)

	// 이미지 라우트
	authed.Post("/images", s.imageHandler.UploadImage)
	authed.Get("/images", s.imageHandler.ListImages)
	authed.Put("/images/:imageId/activate", s.imageHandler.ActivateImage)

	// 토큰(말) 라우트
	authed.Get("/tokens", s.tokenHandler.ListTokens)
	authed.Post("/tokens", s.tokenHandler.CreateToken)
	authed.Put("/tokens/:tokenId/position", s.tokenHandler.MoveToken)
	authed.Delete("/tokens/:tokenId", s.tokenHandler.DeleteToken)

	// 채팅 라우트
	authed.Get("/messages", s.chatHandler.GetMessages)
	authed.Post("/messages", s.chatHandler.PostMessage)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 샌드박스 세션 엔드포인트
	s.app.Get("/ws/sandbox/:sandboxId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿼리 파라미터에서 JWT 토큰 추출 (브라우저 WebSocket은 헤더 불가)
		token := c.Query("token")
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		// JWT 검증
		claims, err := s.jwtManager.ValidateAccessToken(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		sandboxID := c.Params("sandboxId")
		if sandboxID != claims.SandboxID {
			return c.SendStatus(fiber.StatusForbidden)
		}

		// 참가자 확인
		var count int64
		s.db.Table("users").
			Where("sandbox_id = ? AND id = ?", sandboxID, claims.UserID).
			Count(&count)
		if count == 0 {
			return c.SendStatus(fiber.StatusForbidden)
		}

		c.Locals("sandboxID", sandboxID)
		c.Locals("userID", claims.UserID)
		c.Locals("name", claims.Name)
		c.Locals("role", claims.Role)

		return c.Next()
	}, websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Tabletop Session Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/sandbox/:sandboxId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	if s.presence != nil {
		s.presence.Close()
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
