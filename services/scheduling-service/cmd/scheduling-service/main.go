package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicbook/scheduling/libs/config"
	"github.com/clinicbook/scheduling/libs/db"
	"github.com/clinicbook/scheduling/libs/httpx"
	"github.com/clinicbook/scheduling/libs/kafkax"
	"github.com/clinicbook/scheduling/libs/otelx"
	"github.com/clinicbook/scheduling/libs/runtime"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/cache"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/consumer"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/handlers"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/inbox"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/outbox"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/slots"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/storage"
)

const serviceName = "scheduling-service"

func main() {
	_ = godotenv.Load()

	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	shutdownTracer, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	port, err := config.Port("PORT", "8084")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	redisAddr := config.String("REDIS_ADDR", "")
	stripeWebhookSecret := config.String("STRIPE_WEBHOOK_SECRET", "")

	slotCfg := slots.Config{
		Granularity: config.Minutes("SLOT_GRANULARITY_MINUTES", 15),
		HorizonDays: config.Int("BOOKING_HORIZON_DAYS", 30),
		MinLead:     config.Minutes("MIN_LEAD_MINUTES", 60),
	}

	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
	}

	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)
	availRepo := storage.NewAvailabilityRepository(pool)
	dirRepo := storage.NewDirectoryRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	resolver := slots.NewResolver(availRepo, availRepo, bookingRepo, slotCfg)
	coordinator := booking.NewCoordinator(bookingRepo, dirRepo, resolver, booking.Config{
		HorizonDays:   slotCfg.HorizonDays,
		Granularity:   slotCfg.Granularity,
		MinLead:       slotCfg.MinLead,
		CommitTimeout: 5 * time.Second,
	}, logger)

	slotCache := cache.NewSlotCache(rdb,
		time.Duration(config.Int("SLOT_CACHE_TTL_SECONDS", 30))*time.Second, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: kafkaBrokers,
	})
	go publisher.Run(ctx)

	if kafkaBrokers != "" {
		paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: serviceName,
			Topic:   consumer.TopicPaymentSucceeded,
		}, consumer.PaymentSucceededHandler(coordinator, logger))
		go paymentConsumer.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS empty; payment event consumption disabled")
	}

	slotsHandler := handlers.NewSlotsHandler(resolver, dirRepo, slotCache, logger)
	bookingHandler := handlers.NewBookingHandler(coordinator, bookingRepo, slotCache, logger)
	scheduleHandler := handlers.NewScheduleHandler(availRepo, dirRepo, slotCache, logger)
	stripeHandler := handlers.NewStripeWebhookHandler(coordinator, stripeWebhookSecret,
		config.Minutes("STRIPE_WEBHOOK_TOLERANCE_MINUTES", 5), logger)

	checks := []runtime.ReadyCheck{{Name: "postgres", Check: db.ReadyCheck(pool)}}
	if kafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMux(checks...)

	staffOnly := handlers.RequireRole(jwtSecret, "admin", "doctor")
	optionalAuth := handlers.OptionalAuth(jwtSecret)

	mux.HandleFunc("GET /api/v1/public/slots", slotsHandler.Get)
	mux.HandleFunc("POST /api/v1/public/book", bookingHandler.Book)
	mux.HandleFunc("GET /api/v1/appointments/{id}", bookingHandler.Get)
	mux.Handle("POST /api/v1/appointments/{id}/cancel", optionalAuth(http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("POST /api/v1/appointments/{id}/confirm", staffOnly(http.HandlerFunc(bookingHandler.Confirm)))
	mux.Handle("POST /api/v1/appointments/{id}/complete", staffOnly(http.HandlerFunc(bookingHandler.Complete)))
	mux.Handle("POST /api/v1/appointments/{id}/no-show", staffOnly(http.HandlerFunc(bookingHandler.NoShow)))
	mux.Handle("GET /api/v1/appointments", staffOnly(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("GET /api/v1/admin/doctors/{id}/availability", staffOnly(http.HandlerFunc(scheduleHandler.GetAvailability)))
	mux.Handle("PUT /api/v1/admin/doctors/{id}/availability", staffOnly(http.HandlerFunc(scheduleHandler.PutAvailability)))
	mux.Handle("GET /api/v1/admin/doctors/{id}/overrides", staffOnly(http.HandlerFunc(scheduleHandler.GetOverrides)))
	mux.Handle("PUT /api/v1/admin/doctors/{id}/overrides/{date}", staffOnly(http.HandlerFunc(scheduleHandler.PutOverride)))
	mux.HandleFunc("POST /api/v1/payments/stripe/webhook", stripeHandler.Handle)

	middlewares := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(30 * time.Second),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, serviceName)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}

	handler := otelhttp.NewHandler(httpx.Chain(mux, middlewares...), serviceName)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("scheduling service listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
