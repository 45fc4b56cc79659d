package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/yashrajoria/relab-checkout/cache"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/common/logger"
	"github.com/yashrajoria/relab-checkout/common/middleware"
	"github.com/yashrajoria/relab-checkout/consumers"
	"github.com/yashrajoria/relab-checkout/controllers"
	"github.com/yashrajoria/relab-checkout/database"
	"github.com/yashrajoria/relab-checkout/gateway"
	"github.com/yashrajoria/relab-checkout/kafka"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"github.com/yashrajoria/relab-checkout/repository"
	"github.com/yashrajoria/relab-checkout/routes"
	"github.com/yashrajoria/relab-checkout/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "checkout-service"

func main() {
	rootCmd := &cobra.Command{
		Use:   "checkout",
		Short: "order fulfillment and payment reconciliation service",
	}
	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		reconcileCommand(),
		lambdaCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and the notification consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve()
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			log := logger.Initialize(cfg.AppEnv)
			defer log.Sync()

			db, err := database.Connect(cfg.Postgres, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info("Migrations applied")
			return nil
		},
	}
}

func reconcileCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "poll the processor for every unsettled payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.reconciler.PollOpen(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.log.Info("Reconciliation pass finished", zap.Int("payments", n))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum payments to poll")
	return cmd
}

func lambdaCommand() *cobra.Command {
	var notifications bool
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "run as an AWS Lambda handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if notifications {
				consumer := consumers.NewNotificationConsumer(nil, a.reconciler, a.log)
				lambda.Start(consumer.HandleSQSEvent)
				return nil
			}

			adapter := ginadapter.New(a.router())
			lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
				return adapter.ProxyWithContext(ctx, req)
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&notifications, "notifications", false, "consume queued processor notifications instead of API Gateway requests")
	return cmd
}

type app struct {
	cfg     *Config
	log     *zap.Logger
	db      *gorm.DB
	awsCfg  *sdkaws.Config
	metrics *awspkg.MetricsClient

	producer   *kafka.Producer
	closeRedis func() error

	cart       *services.CartService
	checkout   *services.CheckoutService
	orders     *services.OrderService
	payments   *services.PaymentService
	reconciler *services.Reconciler
}

// bootstrap wires every dependency. Optional infrastructure (redis, kafka,
// sns, sqs, cloudwatch) is skipped when unconfigured or unreachable.
func bootstrap(ctx context.Context) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
		a.awsCfg = &awsCfg
		a.metrics = awspkg.NewMetricsClient(awsCfg)
	}

	a.log = logger.Initialize(cfg.AppEnv)
	if cfg.CloudWatchEnabled && a.awsCfg != nil {
		if cw, err := awspkg.NewCloudWatchLogsClient(ctx, *a.awsCfg, serviceName); err == nil {
			a.log = logger.InitializeWithWriter(cfg.AppEnv, cw)
		} else {
			a.log.Warn("CloudWatch logs unavailable", zap.Error(err))
		}
	}
	zap.ReplaceGlobals(a.log)

	if err := controllers.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	a.db, err = database.Connect(cfg.Postgres, a.log)
	if err != nil {
		return nil, err
	}
	store := repository.NewGormStore(a.db)

	gw, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}

	publisher := services.NewMultiPublisher(a.log, a.publishers()...)

	checkoutOpts := []services.CheckoutOption{services.WithShippingFee(cfg.ShippingFee)}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.log.Warn("Redis unavailable, Idempotency-Key disabled", zap.Error(err))
		} else {
			a.closeRedis = client.Close
			checkoutOpts = append(checkoutOpts, services.WithIdempotency(cache.NewIdempotencyStore(client, cfg.IdempotencyTTL)))
		}
	}

	a.reconciler = services.NewReconciler(store, gw, publisher, a.metrics, a.log, cfg.GatewayTimeout)
	a.cart = services.NewCartService(store, a.log)
	a.checkout = services.NewCheckoutService(store, publisher, a.metrics, a.log, checkoutOpts...)
	a.orders = services.NewOrderService(store, publisher, a.metrics, a.log)
	a.payments = services.NewPaymentService(store, gw, a.reconciler, a.metrics, a.log, cfg.PaymentCurrency, cfg.GatewayTimeout)

	a.log.Info("Checkout service wired",
		zap.String("payment_provider", gw.Name()),
		zap.Bool("kafka", a.producer != nil),
		zap.Bool("idempotency", a.closeRedis != nil),
	)
	return a, nil
}

func newGateway(cfg *Config) (gateway.Gateway, error) {
	switch cfg.PaymentProvider {
	case gateway.ProviderStripe:
		return gateway.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PaymentCurrency), nil
	case gateway.ProviderMercadoPago:
		return gateway.NewMercadoPagoClient(gateway.MercadoPagoConfig{
			BaseURL:       cfg.MercadoPagoBaseURL,
			AccessToken:   cfg.MercadoPagoAccessToken,
			WebhookSecret: cfg.MercadoPagoWebhookSecret,
			SiteURL:       cfg.SiteURL,
			Timeout:       cfg.GatewayTimeout,
		}), nil
	}
	return nil, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
}

func (a *app) publishers() []services.EventPublisher {
	var out []services.EventPublisher
	if len(a.cfg.KafkaBrokers) > 0 {
		a.producer = kafka.NewProducer(a.cfg.KafkaBrokers, a.cfg.OrderEventsTopic, a.log)
		out = append(out, a.producer)
	}
	if a.cfg.SNSTopicArn != "" && a.awsCfg != nil {
		out = append(out, services.NewSNSEventPublisher(awspkg.NewSNSClient(*a.awsCfg), a.cfg.SNSTopicArn))
	}
	return out
}

func (a *app) router() *gin.Engine {
	if a.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	serverMetrics := middleware.NewServerMetrics(serviceName)

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(a.log),
		middleware.SecurityHeaders(),
		middleware.CORSMiddleware(),
		middleware.RateLimitMiddleware(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst),
		middleware.Timeout(30*time.Second),
		middleware.MetricsMiddleware(a.metrics, serviceName),
		serverMetrics.Middleware(),
		apperrors.ErrorMiddleware(),
	)
	r.GET("/metrics", gin.WrapH(serverMetrics.Handler()))

	routes.RegisterRoutes(r, routes.Controllers{
		Cart:     controllers.NewCartController(a.cart),
		Orders:   controllers.NewOrderController(a.checkout, a.orders),
		Payments: controllers.NewPaymentController(a.payments),
		Webhooks: controllers.NewWebhookController(a.reconciler, a.log),
	}, middleware.AuthConfig{
		JWTSecret:           []byte(a.cfg.JWTSecret),
		TrustGatewayHeaders: a.cfg.TrustGatewayHeaders,
	})
	return r
}

func (a *app) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.NotificationQueueURL != "" && a.awsCfg != nil {
		queue := awspkg.NewSQSConsumer(*a.awsCfg, a.cfg.NotificationQueueURL, a.log)
		go consumers.NewNotificationConsumer(queue, a.reconciler, a.log).Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Checkout service starting", zap.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	a.log.Info("Shutting down checkout service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("Checkout service stopped gracefully")
	return nil
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}
	if a.closeRedis != nil {
		if err := a.closeRedis(); err != nil {
			a.log.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Error("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
