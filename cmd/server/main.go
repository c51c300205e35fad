package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/evpower/balancehub/db"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/lib/logging"
	"github.com/evpower/balancehub/lib/service"
	"github.com/evpower/balancehub/lib/tokens"
	"github.com/evpower/balancehub/lib/transport"
	"github.com/evpower/balancehub/rabbitmq"
	"github.com/evpower/balancehub/store"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Duration(c.DatabaseTimeout)*time.Second)
	defer cancelStartup()
	group, err := db.Migrate(startupCtx, dbConn)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}
	if !group.IsZero() {
		logger.Infof("Migrated database to %s", group)
	}
	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	gatewayConfig, err := gateway.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading gateway config: %v", err)
	}
	gatewayClient := gateway.NewHTTPClient(gatewayConfig)
	logger.Infof("Using payment gateway at %s", gatewayConfig.GatewayUrl)

	options := []service.ServiceOption{}
	// Without REDIS_URL the balance cache and the in-flight guard are local
	// to this process.
	if c.RedisUrl != "" {
		redisOptions, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			logger.Fatalf("Error parsing REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(redisOptions)
		if err := redisClient.Ping(startupCtx).Err(); err != nil {
			logger.Fatalf("Error connecting to redis: %v", err)
		}
		defer redisClient.Close()
		options = append(options,
			service.WithBalanceCacheBackend(service.NewRedisCacheBackend(redisClient)),
			service.WithLocker(service.NewRedisLocker(redisClient, logger)),
		)
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// No rabbitmq features will be available in this case.
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithDialLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}

		rabbitmqClient, err := rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithTopUpExchange(c.RabbitMQTopUpExchange),
			rabbitmq.WithTopUpConsumerQueueName(c.RabbitMQTopUpConsumerQueueName),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
		options = append(options, service.WithRabbitMQClient(rabbitmqClient))
	}

	svc := service.NewBalanceHubService(c, store.NewBunStore(dbConn), gatewayClient, logger, options...)

	//init echo server
	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("balancehub")))
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for requests creating invoices at the gateway
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)

	secured := e.Group("", tokens.Middleware(c.JWTSecret), logMw)
	securedWithStrictRateLimit := e.Group("", tokens.Middleware(c.JWTSecret), strictRateLimitMiddleware, logMw)

	transport.RegisterV2Endpoints(svc, e, secured, securedWithStrictRateLimit, tokens.AdminTokenMiddleware(c.AdminToken), logMw)

	var backgroundWg sync.WaitGroup
	backGroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Resume monitors of invoices created before a restart
	backgroundWg.Add(1)
	go func() {
		svc.StartMonitoringRoutine(backGroundCtx)
		svc.Logger.Info("Monitoring routine done")
		backgroundWg.Done()
	}()

	// Resolve top-ups that outlived their monitors
	backgroundWg.Add(1)
	go func() {
		svc.StartPendingReconcileRoutine(backGroundCtx)
		svc.Logger.Info("Pending reconciliation routine done")
		backgroundWg.Done()
	}()

	//Start webhook subscription
	if svc.Config.WebhookUrl != "" {
		backgroundWg.Add(1)
		go func() {
			svc.StartWebhookSubscription(backGroundCtx)
			svc.Logger.Info("Webhook routine done")
			backgroundWg.Done()
		}()
	}
	//Start rabbit publisher and the consumer keeping other instances in sync
	if svc.RabbitMQClient != nil {
		backgroundWg.Add(1)
		go func() {
			err := svc.StartRabbitMqPublisher(backGroundCtx)
			if err != nil && backGroundCtx.Err() == nil {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}
			svc.Logger.Info("Rabbit top-up publisher done")
			backgroundWg.Done()
		}()
		backgroundWg.Add(1)
		go func() {
			err := svc.StartRabbitMqConsumer(backGroundCtx)
			if err != nil && backGroundCtx.Err() == nil {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}
			svc.Logger.Info("Rabbit top-up consumer done")
			backgroundWg.Done()
		}()
	}

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if svc.Config.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, c.PrometheusPort, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Error(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Error(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("BalanceHub exiting gracefully. Goodbye.")
}
