package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"

	"queuetrigger/internal/trigger"
	"queuetrigger/pkg/notify"
	"queuetrigger/pkg/poisonlog"
	"queuetrigger/pkg/queueclient/memqueue"
	awssqs "queuetrigger/pkg/queueclient/sqs"
	"queuetrigger/pkg/retrypolicy"
	"queuetrigger/pkg/triggerconfig"
	"queuetrigger/pkg/triggerlog"
)

var configPath = flag.String("config", "./config/queuetrigger.yaml", "path to the YAML configuration file")

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  queuetrigger-demo starting...")
	log.Println("========================================")

	cfg, err := triggerconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	zapLogger, err := triggerlog.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	queue, err := newQueueClient(cfg)
	if err != nil {
		log.Fatalf("failed to create queue client: %v", err)
	}

	var onPoison func(ctx context.Context, msg *trigger.Message)

	if cfg.Redis.Addr != "" {
		channel := notify.ChannelName(cfg.App.FunctionID, cfg.Queue.Name)
		bridge, err := notify.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, channel, zapLogger)
		if err != nil {
			log.Fatalf("failed to connect notify bridge: %v", err)
		}
		defer bridge.Close()
		onPoison = bridge.PublishPoisoned
	}

	var sink *poisonlog.Sink
	if cfg.MySQL.DSN != "" {
		sink, err = poisonlog.Open(cfg.MySQL.DSN, cfg.Queue.Name, zapLogger)
		if err != nil {
			log.Fatalf("failed to open poison log: %v", err)
		}
		defer sink.Close()

		if onPoison != nil {
			bridgeNotify := onPoison
			onPoison = func(ctx context.Context, msg *trigger.Message) {
				sink.Record(ctx, msg)
				bridgeNotify(ctx, msg)
			}
		} else {
			onPoison = sink.Record
		}
	}

	policy := retrypolicy.New(retrypolicy.Config{
		BatchSize:          cfg.Retry.BatchSize,
		NewBatchThreshold:  cfg.Retry.NewBatchThreshold,
		MaxPollingInterval: cfg.Retry.MaxPollingInterval,
		MaxDequeueCount:    cfg.Retry.MaxDequeueCount,
		PoisonQueueName:    cfg.Retry.PoisonQueueName,
		BackoffStrategy:    parseBackoffStrategy(cfg.Retry.BackoffStrategy),
		RetryDelay:         cfg.Retry.RetryDelay,
		MaxDelay:           cfg.Retry.MaxDelay,
		Jitter:             cfg.Retry.Jitter,
	}, queue, zapLogger, onPoison)

	handler := func(ctx context.Context, msg *trigger.Message) trigger.HandlerResult {
		zapLogger.Infof(ctx, "handling message %s (dequeue count %d, %d bytes)", msg.ID, msg.DequeueCount, len(msg.Body))
		return trigger.HandlerResult{Success: true}
	}

	onError := func(ctx context.Context, msg *trigger.Message, err error) {
		zapLogger.Errorf(ctx, "unhandled error processing message %s: %v", msg.ID, err)
	}

	listener := trigger.New(cfg.Options(), queue, policy, handler, zapLogger, onError)
	if err := listener.Start(); err != nil {
		log.Fatalf("failed to start listener: %v", err)
	}

	log.Printf("listener started for %s. Press Ctrl+C to shut down.\n", listener.Descriptor())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("received signal: %v, shutting down...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := listener.Stop(shutdownCtx); err != nil {
		log.Printf("listener stop returned: %v", err)
	}
	if err := listener.Dispose(); err != nil {
		log.Printf("listener dispose returned: %v", err)
	}

	log.Println("queuetrigger-demo exited gracefully")
}

func newQueueClient(cfg *triggerconfig.Config) (trigger.QueueClient, error) {
	switch cfg.Queue.Backend {
	case "memqueue":
		return memqueue.New(cfg.Queue.Name), nil
	case "sqs":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWS.Region)})
		if err != nil {
			return nil, err
		}
		return awssqs.New(sqs.New(sess), cfg.Queue.Name), nil
	default:
		return nil, errUnknownBackend(cfg.Queue.Backend)
	}
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string { return "unknown queue backend: " + string(e) }

func parseBackoffStrategy(s string) retrypolicy.BackoffStrategy {
	switch s {
	case "linear":
		return retrypolicy.BackoffLinear
	case "exponential":
		return retrypolicy.BackoffExponential
	default:
		return retrypolicy.BackoffFixed
	}
}
