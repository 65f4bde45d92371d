package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/leech/activity"
	dynamostore "github.com/KamdynS/leech/adapters/dynamo"
	"github.com/KamdynS/leech/adapters/memory"
	redisstore "github.com/KamdynS/leech/adapters/redis"
	sqssink "github.com/KamdynS/leech/adapters/sqs"
	swfservice "github.com/KamdynS/leech/adapters/swf"
	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/flows"
	"github.com/KamdynS/leech/graph"
	"github.com/KamdynS/leech/observability"
	"github.com/KamdynS/leech/server"
	"github.com/KamdynS/leech/sink"
	"github.com/KamdynS/leech/worker"
	"github.com/KamdynS/leech/workflow"
)

type runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func newSWF(ctx context.Context) (*swfservice.Service, error) {
	return swfservice.New(ctx, swfservice.Config{
		Domain:   settings.Domain,
		Region:   settings.Region,
		Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
		TaskList: settings.DecisionTaskList,
	})
}

// newSource picks the versions and config source: a YAML file when one is
// configured, else the document stored in Redis.
func newSource() config.Source {
	switch {
	case settings.ConfigPath != "":
		return config.FileSource{Path: settings.ConfigPath}
	case settings.RedisAddr != "":
		return config.NewRedisSource(redis.NewClient(&redis.Options{Addr: settings.RedisAddr}), settings.RedisPrefix)
	}
	log.Printf("[Leech] No config source configured; flows run with default versions and config")
	return config.StaticSource{}
}

func hooks() *observability.Hooks {
	if !verbose {
		return nil
	}
	return &observability.Hooks{
		Logf: func(_ context.Context, level, msg string, fields map[string]any) {
			log.Printf("[Leech] %s %s %v", strings.ToUpper(level), msg, fields)
		},
		OnDecisionRound: func(_ context.Context, flowType, flowID string, decisions int, latency time.Duration) {
			log.Printf("[Leech] %s %s: %d decisions in %v", flowType, flowID, decisions, latency)
		},
		OnAdmissionDenied: func(_ context.Context, kind, name, id string) {
			log.Printf("[Leech] Held back %s %s (%s)", kind, id, name)
		},
		OnActivityResult: func(_ context.Context, name string, latency time.Duration, err error) {
			log.Printf("[Leech] Activity %s finished in %v (err=%v)", name, latency, err)
		},
	}
}

func newDecider(svc engine.Service, poller worker.DecisionPoller, source config.Source) (*worker.Decider, error) {
	reg := workflow.NewRegistry()
	if err := flows.Register(reg); err != nil {
		return nil, err
	}
	e, err := engine.New(engine.Config{
		Service:    svc,
		Registry:   reg,
		Source:     source,
		LambdaRole: settings.LambdaRole,
		Hooks:      hooks(),
	})
	if err != nil {
		return nil, err
	}
	return worker.NewDecider(worker.DeciderConfig{
		Poller:   poller,
		Engine:   e,
		TaskList: settings.DecisionTaskList,
		Pollers:  settings.Pollers,
	})
}

func newWorker(poller worker.ActivityPoller, reg *activity.Registry) (*worker.ActivityWorker, error) {
	return worker.NewActivityWorker(worker.ActivityConfig{
		Poller:   poller,
		Registry: reg,
		TaskList: settings.ActivityTaskList,
		Pollers:  settings.Pollers,
		Hooks:    hooks(),
	})
}

// newActivities wires the crawl activities to the configured remote, graph
// store and sink. The returned func releases their connections.
func newActivities(ctx context.Context) (*activity.Registry, func(), error) {
	remote := flows.NewMemoryRemote()
	if settings.RemotePath != "" {
		var err error
		if remote, err = flows.LoadRemote(settings.RemotePath); err != nil {
			return nil, nil, err
		}
	}
	store, closeFn, err := newGraph(ctx)
	if err != nil {
		return nil, nil, err
	}
	out, err := newSink(ctx)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	reg := activity.NewRegistry()
	acts := &flows.Activities{Remote: remote, Graph: store, Sink: out}
	if err := acts.Register(reg); err != nil {
		closeFn()
		return nil, nil, err
	}
	return reg, closeFn, nil
}

func newGraph(ctx context.Context) (graph.Store, func(), error) {
	kind := storeKind
	if kind == "" {
		kind = "dynamo"
		if settings.RedisAddr != "" {
			kind = "redis"
		}
	}
	switch kind {
	case "memory":
		return graph.NewMemoryStore(), func() {}, nil
	case "redis":
		s, err := redisstore.New(redisstore.Config{Addr: settings.RedisAddr, Prefix: settings.RedisPrefix})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", settings.RedisAddr, err)
		}
		return s, func() { _ = s.Close() }, nil
	case "dynamo":
		s, err := dynamostore.New(ctx, dynamostore.Config{
			Table:        settings.TableName,
			PartitionKey: settings.PartitionKey,
			SortKey:      settings.SortKey,
			IndexName:    settings.IndexName,
			Region:       settings.Region,
			Endpoint:     os.Getenv("AWS_ENDPOINT_URL"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown graph store %q", kind)
}

func newSink(ctx context.Context) (sink.Sink, error) {
	if settings.QueueURL == "" {
		log.Printf("[Leech] SQS_QUEUE_URL is not set; change records are kept in memory")
		return sink.NewMemorySink(), nil
	}
	return sqssink.New(ctx, sqssink.Config{
		QueueURL: settings.QueueURL,
		Region:   settings.Region,
		Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
	})
}

func serve(ctx context.Context, starter engine.Starter) error {
	srv, err := server.New(server.Config{
		Starter:    starter,
		Source:     newSource(),
		Domain:     settings.Domain,
		TaskList:   settings.DecisionTaskList,
		LambdaRole: settings.LambdaRole,
		Port:       settings.HTTPPort,
	})
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdown)
}

func runUntilSignal(ctx context.Context, r runnable) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.Stop(shutdown)
}

// fireTimers drives the in-memory service's back-off timers off the wall clock.
func fireTimers(ctx context.Context, svc *memory.Service) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			svc.FireTimers(now)
		}
	}
}
