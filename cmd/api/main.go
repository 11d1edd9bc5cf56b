package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-orderflow-realtime/internal/aws"
	"github.com/imrishuroy/go-orderflow-realtime/internal/config"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/gateway"
	"github.com/imrishuroy/go-orderflow-realtime/internal/handlers"
	"github.com/imrishuroy/go-orderflow-realtime/internal/idempotency"
	"github.com/imrishuroy/go-orderflow-realtime/internal/kitchen"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/negotiation"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
	"github.com/imrishuroy/go-orderflow-realtime/internal/validation"
)

const cancelResponseEvent = "kitchen:cancel_response"

func setupRouter(cfg handlers.HandlerConfig, gw *gateway.Gateway, ws gateway.WSConfig, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterKitchenRoutes(r, cfg)
	r.GET("/ws", gin.WrapF(gw.ServeWS(ws)))

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// app is the wired process: one gateway shared by every state machine.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	router     *gin.Engine
	gw         *gateway.Gateway
	metrics    *aws.Metrics
	negotiator *negotiation.Negotiator
	closers    []func() error
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if cfg.AWS.MetricsNamespace != "" {
		a.metrics = aws.NewMetrics(clients.CloudWatch, cfg.AWS.MetricsNamespace, log)
	}

	var relays []gateway.Relay
	if cfg.AWS.EventsQueueURL != "" {
		relays = append(relays, gateway.NewSQSRelay(aws.NewPublisher(clients.SQS, cfg.AWS.EventsQueueURL)))
	}
	if cfg.RabbitMQ.URL != "" {
		rl, err := gateway.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		relays = append(relays, rl)
		a.closers = append(a.closers, rl.Close)
	}

	if cfg.Postgres.URL == "" {
		return nil, errors.New("directory database is required (DATABASE_URL)")
	}
	pool, err := directory.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	dir := directory.NewPostgres(pool)

	// a Lambda invocation may freeze before a background relay runs, so only
	// the long-lived server queues relay work
	var relayBuffer int
	if cfg.RunLocal {
		relayBuffer = cfg.Realtime.RelayBuffer
	}
	gw := gateway.New(gateway.Options{Log: log.With("component", "gateway"), Metrics: a.metrics, Relays: relays, RelayBuffer: relayBuffer})
	a.gw = gw

	store := orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable, cfg.AWS.KitchenOrdersTable)
	ordersSvc := orders.NewService(store, dir, gw, orders.Options{Log: log.With("component", "orders"), Metrics: a.metrics})
	kitchenSvc := kitchen.NewService(store, dir, ordersSvc, gw, kitchen.Options{Log: log.With("component", "kitchen"), Metrics: a.metrics})
	a.negotiator = negotiation.New(ordersSvc, gw, negotiation.Options{
		Log:     log.With("component", "negotiation"),
		Metrics: a.metrics,
		Timeout: cfg.Realtime.CancelTimeout,
	})
	ordersSvc.SetCancelRequester(a.negotiator)

	v := validation.New()
	gw.Handle(cancelResponseEvent, handlers.CancelResponseHandler(a.negotiator, v))

	a.router = setupRouter(handlers.HandlerConfig{
		Orders:      ordersSvc,
		Kitchen:     kitchenSvc,
		Negotiator:  a.negotiator,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, cfg.AWS.IdempotencyTTL),
		Validate:    v,
		Log:         log,
	}, gw, gateway.WSConfig{
		SendBuffer:   cfg.Realtime.ClientBuffer,
		PingInterval: cfg.Realtime.PingInterval,
		WriteTimeout: cfg.Realtime.WriteTimeout,
	}, log)
	return a, nil
}

// serve runs the HTTP server next to the cancellation sweeper and the metrics
// flusher until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.router}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("running local server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.gw.RunRelays(gctx) })
	g.Go(func() error { return a.negotiator.Run(gctx) })
	g.Go(func() error { return a.metrics.Run(gctx, a.cfg.AWS.MetricsInterval) })

	return g.Wait()
}

func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}

func main() {
	path := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New("orderflow-api", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to init", "error", err)
		os.Exit(1)
	}
	defer a.close()

	// if RUN_LOCAL is true, run a long-lived HTTP server with websocket support.
	if cfg.RunLocal {
		if err := a.serve(ctx); err != nil {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	go func() {
		if err := a.negotiator.Run(ctx); err != nil {
			log.Warn("cancel sweeper stopped", "error", err)
		}
	}()
	adapter := ginadapter.New(a.router)
	lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if ferr := a.metrics.Flush(ctx); ferr != nil {
			log.Warn("metrics flush failed", "error", ferr)
		}
		return resp, err
	}, lambda.WithContext(ctx))
}
