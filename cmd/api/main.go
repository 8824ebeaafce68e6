package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/handler"
	"marketplace/internal/infra/db"
	"marketplace/internal/infra/metrics"
	"marketplace/internal/infra/notify"
	"marketplace/internal/infra/payment"
	infraRepo "marketplace/internal/infra/repository"
	"marketplace/internal/infra/token"
	"marketplace/internal/server"
	"marketplace/internal/usecase"
	auth "marketplace/internal/usecase/auth_usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	//開発時は読みやすく、本番はJSON
	if !cfg.IsProd() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "marketplace-api").Logger()
}

func main() {
	// .env は無くてもよい
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg)
	log.Info().Str("env", cfg.GoEnv).Msg("Marketplace API starting...")

	//DB接続
	gormDB, err := db.Connect(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate")
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	orderRepo := infraRepo.NewOrderGormRepository(gormDB)
	orderItemRepo := infraRepo.NewOrderItemGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)
	tx := infraRepo.NewTxManagerGorm(gormDB)

	m := metrics.New()

	//通知先（Kafka が無ければログ）
	var notifier usecase.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kn.Close(); err != nil {
				log.Error().Err(err).Msg("kafka writer close failed")
			}
		}()
		notifier = m.WrapNotifier(kn)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("order events go to kafka")
	} else {
		notifier = m.WrapNotifier(notify.NewLogNotifier(log.Logger))
	}

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.PaymentCurrency,
		Timeout:       cfg.PaymentTimeout,
	})

	clock := usecase.SystemClock{}
	issuer := token.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTTL)
	policy := pricing.Policy{
		TaxRate:               cfg.TaxRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShippingFee:       cfg.FlatShippingFee,
	}

	//Usecase生成
	registerUC := auth.NewRegisterUserUsecase(userRepo, auth.NewBcryptPasswordHasher(12), clock)
	loginUC := auth.NewLoginUsecase(userRepo, auth.NewBcryptPasswordVerifier(), issuer, clock)
	productUC := usecase.NewProductUsecase(productRepo, tx, clock)
	orderUC := usecase.NewOrderUsecase(tx, orderRepo, orderItemRepo, policy, notifier, clock, usecase.UUIDGenerator{})
	adminOrderUC := usecase.NewAdminOrderUsecase(tx, orderRepo, orderItemRepo, auditRepo, notifier, clock)
	paymentUC := usecase.NewPaymentUsecase(tx, gateway, orderUC, clock)

	e := server.New(server.Deps{
		Config:      cfg,
		DB:          gormDB,
		Users:       userRepo,
		TokenParser: issuer,
		Metrics:     m,
		Logger:      log.Logger,

		Auth:         handler.NewAuthHandler(registerUC, loginUC, auth.NewLogoutAllUsecase(userRepo)),
		Products:     handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC),
		Orders:       handler.NewOrderHandler(orderUC, adminOrderUC),
		AdminOrders:  handler.NewAdminOrderHandler(adminOrderUC),
		Payments:     handler.NewPaymentHandler(paymentUC),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, e, cfg.Port); err != nil {
		log.Error().Err(err).Msg("Server failed")
		return
	}
	log.Info().Msg("Server stopped")
}
