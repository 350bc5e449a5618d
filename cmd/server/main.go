// Package main wires the aggregating payment gateway's storage,
// domain engines, async workers and HTTP API into one running process.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/plm/aggpay/api/handlers"
	"github.com/plm/aggpay/api/middleware"
	"github.com/plm/aggpay/auth"
	"github.com/plm/aggpay/channel"
	"github.com/plm/aggpay/driver"
	"github.com/plm/aggpay/engine/worker"
	"github.com/plm/aggpay/notify"
	"github.com/plm/aggpay/order"
	"github.com/plm/aggpay/queue"
	"github.com/plm/aggpay/receipts"
	"github.com/plm/aggpay/refund"
	"github.com/plm/aggpay/risk"
	"github.com/plm/aggpay/signer"
	pgstorage "github.com/plm/aggpay/storage/postgres"
	redisstorage "github.com/plm/aggpay/storage/redis"
	"github.com/plm/aggpay/storage/users"
	"github.com/plm/aggpay/wallet"
	"github.com/plm/aggpay/withdrawal"

	"golang.org/x/crypto/chacha20poly1305"
)

func main() {
	log.Println("starting aggpay gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := pgstorage.NewClient(ctx, postgresConfigFromEnv())
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	db := pg.DB()

	rdb, err := redisstorage.NewClient(ctx, redisConfigFromEnv())
	if err != nil {
		log.Fatalf("redis: %v", err)
	}

	mq, err := queue.NewClient(ctx, queueConfigFromEnv())
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	if err := mq.SetupStreams(ctx); err != nil {
		log.Fatalf("queue: setup streams: %v", err)
	}

	registry := driver.NewRegistry()
	currency := envOr("GATEWAY_CURRENCY", "usd")
	registry.Register("stripe", driver.NewGuarded(driver.NewStripeDriver(currency), rdb.CircuitBreaker()))

	orderRepo := pgstorage.NewOrderRepo(registry)
	buyerRepo := pgstorage.NewBuyerRepo()
	channelRepo := pgstorage.NewChannelRepo(db)
	accountRepo := pgstorage.NewAccountRepo(db)
	refundRepo := pgstorage.NewRefundRepo()
	withdrawalRepo := pgstorage.NewWithdrawalRepo()
	blacklistRepo := pgstorage.NewBlacklistRepo(db)
	buyerCounter := pgstorage.NewOrderBuyerCounter(db)
	riskLog := pgstorage.NewRiskLogWriter(db)
	merchantRepo := pgstorage.NewMerchantRepo(db)
	notificationRepo := pgstorage.NewNotificationRepo(db)

	riskEngine := risk.New(blacklistRepo, buyerCounter, riskLog, risk.DefaultConfig())
	ledger := wallet.New()
	selector := channel.New(channelRepo, accountRepo, rdb.DailyLimits(), rdb.Rotation())

	settleEnqueuer := queue.SettleEnqueuer{Client: mq}
	notifyEnqueuer := queue.NotifyEnqueuer{Client: mq}

	orderEngine := order.New(db, orderRepo, buyerRepo, selector, riskEngine, ledger, settleEnqueuer, notifyEnqueuer)
	refundEngine := refund.New(db, orderRepo, refundRepo, ledger)
	withdrawalEngine := withdrawal.New(db, withdrawalRepo, ledger)

	rsaKey, err := rsaPrivateKeyFromEnv()
	if err != nil {
		log.Fatalf("notify: %v", err)
	}
	pool := worker.NewPool(worker.DefaultConfig())
	dispatcher := notify.New(orderEngine, notificationRepo, pool, rsaKey)

	qWorker := queue.NewWorker(orderEngine, dispatcher)
	settleConsumer, err := mq.CreateWorkQueueConsumer(ctx, queue.DefaultConsumerConfig(queue.SettleStream, "gateway-settle", queue.SettleSubject))
	if err != nil {
		log.Fatalf("queue: settle consumer: %v", err)
	}
	notifyConsumer, err := mq.CreateWorkQueueConsumer(ctx, queue.DefaultConsumerConfig(queue.NotifyStream, "gateway-notify", queue.NotifySubject))
	if err != nil {
		log.Fatalf("queue: notify consumer: %v", err)
	}
	go func() {
		if err := qWorker.RunSettle(ctx, settleConsumer); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("queue: settle worker stopped: %v", err)
		}
	}()
	go func() {
		if err := qWorker.RunNotify(ctx, notifyConsumer); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("queue: notify worker stopped: %v", err)
		}
	}()

	tokenManager, err := auth.NewTokenManager(auth.DefaultTokenConfig())
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	userStore := users.NewStore()
	authMiddleware := middleware.NewAuthMiddleware(tokenManager)

	adminCodec, err := signer.NewAdminCodec(adminCodecKeyFromEnv())
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	generator := receipts.NewGenerator(envOr("GATEWAY_COMPANY_NAME", "AggPay"))

	merchantHandler := handlers.NewMerchantHandler(db, merchantRepo, orderRepo, orderEngine, refundEngine, withdrawalEngine, dispatcher)
	callbackHandler := handlers.NewCallbackHandler(db, orderEngine, dispatcher, registry)
	adminHandler := handlers.NewAdminHandler(adminCodec, userStore, tokenManager, orderEngine, refundEngine, withdrawalEngine)
	receiptHandler := handlers.NewReceiptHandler(db, withdrawalRepo, generator)

	mux := http.NewServeMux()

	mux.HandleFunc("/orders/create", merchantHandler.HandleCreateOrder)
	mux.HandleFunc("/orders/query", merchantHandler.HandleQueryOrder)
	mux.HandleFunc("/refunds/apply", merchantHandler.HandleApplyRefund)
	mux.HandleFunc("/withdrawals/apply", merchantHandler.HandleApplyWithdrawal)
	mux.HandleFunc("/callback/stripe", callbackHandler.HandleUpstreamCallback("stripe"))

	mux.HandleFunc("/admin/login", adminHandler.HandleLogin)
	mux.Handle("/admin/refunds/handle", authMiddleware.Authenticate(authMiddleware.RequireRole(auth.RoleOperator)(http.HandlerFunc(adminHandler.HandleAdminRefund))))
	mux.Handle("/admin/withdrawals/settle-account", authMiddleware.Authenticate(authMiddleware.RequireSuperAdmin(http.HandlerFunc(adminHandler.HandleSettleAccount))))
	mux.Handle("/admin/withdrawals/status", authMiddleware.Authenticate(authMiddleware.RequireRole(auth.RoleOperator)(http.HandlerFunc(adminHandler.HandleWithdrawalStatus))))
	mux.Handle("/admin/orders/transition", authMiddleware.Authenticate(authMiddleware.RequireSuperAdmin(http.HandlerFunc(adminHandler.HandleOrderTransition))))

	mux.HandleFunc("/receipts/withdrawals", receiptHandler.HandleDownloadReceipt)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	handler := middleware.Chain(
		middleware.SecurityHeaders,
		middleware.InputValidation,
		middleware.CSRFMiddleware,
	)(mux)

	addr := ":" + envOr("GATEWAY_PORT", "8080")
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		log.Printf("http server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	cancel()
	mq.Close()
	log.Println("stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func postgresConfigFromEnv() *pgstorage.Config {
	cfg := pgstorage.DefaultConfig()
	cfg.Host = envOr("POSTGRES_HOST", cfg.Host)
	cfg.User = envOr("POSTGRES_USER", cfg.User)
	cfg.Password = envOr("POSTGRES_PASSWORD", cfg.Password)
	cfg.Database = envOr("POSTGRES_DB", cfg.Database)
	if p := os.Getenv("POSTGRES_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Port = port
		}
	}
	return cfg
}

func redisConfigFromEnv() *redisstorage.Config {
	cfg := redisstorage.DefaultConfig()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
		cfg.SentinelAddrs = nil
	}
	cfg.Password = envOr("REDIS_PASSWORD", cfg.Password)
	return cfg
}

func queueConfigFromEnv() *queue.Config {
	cfg := queue.DefaultConfig()
	cfg.URLs = envOr("NATS_URLS", cfg.URLs)
	cfg.Token = os.Getenv("NATS_TOKEN")
	return cfg
}

// adminCodecKeyFromEnv loads the XChaCha20-Poly1305 admin payload key
// (spec §6). A deterministic dev key is used only when unset, matching
// auth.DefaultTokenConfig's insecure-fallback pattern.
func adminCodecKeyFromEnv() []byte {
	if key := os.Getenv("ADMIN_PAYLOAD_KEY"); len(key) == chacha20poly1305.KeySize {
		return []byte(key)
	}
	log.Println("WARNING: ADMIN_PAYLOAD_KEY not set or invalid length - using insecure default (DEV ONLY)")
	return []byte("aggpay-dev-admin-payload-key-32b"[:chacha20poly1305.KeySize])
}

// rsaPrivateKeyFromEnv loads the RSA2 signing key used to sign merchant
// notification callbacks (spec §4.9). It accepts a PEM-encoded PKCS1 or
// PKCS8 private key from NOTIFY_RSA_PRIVATE_KEY, generating an ephemeral
// key for local development when unset.
func rsaPrivateKeyFromEnv() (*rsa.PrivateKey, error) {
	raw := os.Getenv("NOTIFY_RSA_PRIVATE_KEY")
	if raw == "" {
		log.Println("WARNING: NOTIFY_RSA_PRIVATE_KEY not set - generating ephemeral key (DEV ONLY)")
		return rsa.GenerateKey(rand.Reader, 2048)
	}

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("main: NOTIFY_RSA_PRIVATE_KEY is not valid PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("main: NOTIFY_RSA_PRIVATE_KEY is not an RSA key")
	}
	return rsaKey, nil
}

