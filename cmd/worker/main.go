package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-orderflow-realtime/internal/aws"
	"github.com/imrishuroy/go-orderflow-realtime/internal/config"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
	"github.com/imrishuroy/go-orderflow-realtime/internal/gateway"
	"github.com/imrishuroy/go-orderflow-realtime/internal/kitchen"
	"github.com/imrishuroy/go-orderflow-realtime/internal/logging"
	"github.com/imrishuroy/go-orderflow-realtime/internal/orders"
)

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New("orderflow-worker", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		fatal(log, "invalid config", err)
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride})
	if err != nil {
		fatal(log, "failed to init aws clients", err)
	}
	if cfg.Postgres.URL == "" {
		fatal(log, "invalid config", errors.New("directory database is required (DATABASE_URL)"))
	}
	pool, err := directory.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		fatal(log, "failed to connect directory", err)
	}
	defer pool.Close()

	var metrics *aws.Metrics
	if cfg.AWS.MetricsNamespace != "" {
		metrics = aws.NewMetrics(clients.CloudWatch, cfg.AWS.MetricsNamespace, log)
	}

	// the worker has no websocket clients; events leave through the relays
	var relays []gateway.Relay
	if cfg.AWS.EventsQueueURL != "" {
		relays = append(relays, gateway.NewSQSRelay(aws.NewPublisher(clients.SQS, cfg.AWS.EventsQueueURL)))
	}
	if cfg.RabbitMQ.URL != "" {
		rl, err := gateway.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			fatal(log, "failed to connect amqp", err)
		}
		defer rl.Close()
		relays = append(relays, rl)
	}
	gw := gateway.New(gateway.Options{Log: log.With("component", "gateway"), Metrics: metrics, Relays: relays})

	dir := directory.NewPostgres(pool)
	store := orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable, cfg.AWS.KitchenOrdersTable)
	ordersSvc := orders.NewService(store, dir, gw, orders.Options{Log: log.With("component", "orders"), Metrics: metrics})
	kitchenSvc := kitchen.NewService(store, dir, ordersSvc, gw, kitchen.Options{Log: log.With("component", "kitchen"), Metrics: metrics})

	p := NewProcessor(kitchenSvc, log)

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"command":"complete","kitchen_order_id":"local-kitchen-order-1"}`
		}
		resp, _ := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if len(resp.BatchItemFailures) > 0 {
			log.Error("local command failed")
			os.Exit(1)
		}
		return
	}

	lambda.Start(func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp, err := p.Handle(ctx, ev)
		if ferr := metrics.Flush(ctx); ferr != nil {
			log.Warn("metrics flush failed", "error", ferr)
		}
		return resp, err
	})
}
