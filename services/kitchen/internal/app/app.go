package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	aptevents "github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/expo/pkg"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/appetiteclub/expo/services/kitchen/internal/events"
	"github.com/appetiteclub/expo/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/expo/services/kitchen/internal/mongo"
	"github.com/appetiteclub/expo/services/kitchen/internal/sqlite"
)

const (
	AppName    = "kitchen"
	AppVersion = "0.1.0"

	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"

	defaultNATSURL = "nats://localhost:4222"
	kitchenStream  = "KITCHEN_EVENTS"
	ordersStream   = "KITCHEN_ORDERS"
	pruneInterval  = time.Minute

	streamRetention = 24 * time.Hour
)

// storeLifecycle is what every item store backend offers besides ItemStore.
type storeLifecycle interface {
	kitchen.ItemStore
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App wires the kitchen service together.
type App struct {
	config  *apt.Config
	logger  apt.Logger
	options []apt.Option

	settings kitchen.Settings
	clock    kitchen.Clock
	driver   string

	store     kitchen.ItemStore
	memory    *kitchen.MemoryItemStore
	mongoRepo *mongo.ItemRepo
	lifecycle []interface{}
}

// New creates a new kitchen service application
func New(config *apt.Config, logger apt.Logger) (*App, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &App{
		config: config,
		logger: logger,
		clock:  kitchen.SystemClock{},
	}, nil
}

// Initialize sets up all dependencies and components
func (a *App) Initialize(ctx context.Context) error {
	settings, err := kitchen.LoadSettings(a.config, a.logger)
	if err != nil {
		return fmt.Errorf("invalid kitchen settings: %w", err)
	}
	a.settings = settings

	natsURL := a.config.GetStringOrDef("nats.url", defaultNATSURL)

	// Outbound events go through the persistent stream when enabled so the
	// in-memory store can replay them on restart.
	var stream *pkg.NATSStream
	var publisher aptevents.Publisher
	var closers []func() error

	streamEnabled, _ := a.config.GetString("nats.stream.enabled")
	if streamEnabled == "true" {
		stream, err = pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        natsURL,
			StreamName: kitchenStream,
			Topic:      event.KitchenItemsTopic,
			Subjects:   []string{event.KitchenItemsTopic, event.KitchenItemsTopic + ".>"},
			MaxAge:     streamRetention,
		})
		if err != nil {
			return fmt.Errorf("cannot open NATS stream: %w", err)
		}
		a.logger.Info("NATS stream initialized for persistent events", "stream", kitchenStream)
		publisher = stream
		closers = append(closers, stream.Close)
	} else {
		natsPublisher, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			return fmt.Errorf("cannot connect to NATS publisher: %w", err)
		}
		publisher = natsPublisher
		closers = append(closers, natsPublisher.Close)
	}

	subscriber, err := pkg.NewNATSSubscriber(natsURL, a.logger)
	if err != nil {
		return fmt.Errorf("cannot connect to NATS subscriber: %w", err)
	}
	closers = append(closers, subscriber.Close)

	if err := a.setupStore(stream); err != nil {
		return err
	}

	// Without a persistent backend the order directory is rebuilt from the
	// order events the stream retains.
	var orderReplay aptevents.StreamConsumer
	if stream != nil && a.memory != nil {
		ordersReplay, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:        natsURL,
			StreamName: ordersStream,
			Topic:      event.OrdersTopic,
			MaxAge:     streamRetention,
		})
		if err != nil {
			return fmt.Errorf("cannot open NATS order stream: %w", err)
		}
		orderReplay = ordersReplay
		closers = append(closers, ordersReplay.Close)
	}

	metrics := kitchen.NewMetrics()
	broadcaster := kitchen.NewBroadcaster(publisher, settings.BroadcastBuffer, metrics, a.logger)
	engine := kitchen.NewEngine(a.store, broadcaster, a.clock, settings, metrics, a.logger)
	orders := kitchen.NewOrderDirectory()
	orderSubscriber := events.NewOrderSubscriber(subscriber, orders, a.logger)
	a.setupOrderDirectory(orders, orderSubscriber, orderReplay)
	views := kitchen.NewMaterializer(a.store, orders, a.clock, settings)

	handler := kitchen.NewHandler(kitchen.HandlerDeps{
		Engine:      engine,
		Store:       a.store,
		Views:       views,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Config:      a.config,
		Logger:      a.logger,
	})

	grpcStreamServer := kitchen.NewEventStreamServer(broadcaster, a.store, a.clock, a.logger)

	itemSubscriber := events.NewOrderItemSubscriber(subscriber, engine, a.logger)

	connLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			var firstErr error
			for _, closeFn := range closers {
				if err := closeFn(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}

	// Store and directory restore come first so subscribers never deliver
	// into an unopened backend.
	a.lifecycle = append(a.lifecycle, connLifecycle, broadcaster, orderSubscriber, itemSubscriber)
	if a.memory != nil {
		a.lifecycle = append(a.lifecycle, a.janitor(ctx))
	}
	if err := a.setupDemoSeeds(ctx, orders); err != nil {
		return err
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	a.options = []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithGRPCServerModules("grpc.port", grpcStreamServer),
		apt.WithLifecycle(a.lifecycle...),
		apt.WithHealthChecks(AppName),
	}
	return nil
}

// setupStore picks the item store backend from db.driver. The memory store
// warms itself from the event stream when one is available.
func (a *App) setupStore(stream *pkg.NATSStream) error {
	a.driver = strings.ToLower(a.config.GetStringOrDef("db.driver", DriverMemory))

	var backend storeLifecycle
	switch a.driver {
	case DriverMemory:
		var replay aptevents.StreamConsumer
		if stream != nil {
			replay = stream
		}
		a.memory = kitchen.NewMemoryItemStore(replay, nil, a.logger)
		a.store = a.memory
		a.lifecycle = append(a.lifecycle, apt.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				if err := a.memory.Warm(ctx); err != nil {
					a.logger.Info("failed to warm item store", "error", err)
				}
				return nil
			},
		})
		a.logger.Info("Using in-memory item store")
		return nil

	case DriverMongo:
		a.mongoRepo = mongo.NewItemRepo(a.config, a.logger)
		backend = a.mongoRepo

	case DriverSQLite:
		path := a.config.GetStringOrDef("db.sqlite.path", "expo_kitchen.db")
		backend = sqlite.NewItemRepo(path, a.logger)

	default:
		return fmt.Errorf("unknown db.driver %q (want %s, %s or %s)", a.driver, DriverMemory, DriverMongo, DriverSQLite)
	}

	a.store = backend
	a.lifecycle = append(a.lifecycle, backend)
	a.logger.Info("Using persistent item store", "driver", a.driver)
	return nil
}

// setupOrderDirectory restores order metadata on start: from the item
// backend when it persists orders, otherwise by replaying retained order
// events.
func (a *App) setupOrderDirectory(orders *kitchen.OrderDirectory, subscriber *events.OrderSubscriber, replay aptevents.StreamConsumer) {
	if persisted, ok := a.store.(kitchen.OrderInfoStore); ok {
		orders.SetStore(persisted)
		a.lifecycle = append(a.lifecycle, apt.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				loaded, err := orders.Load(ctx)
				if err != nil {
					return fmt.Errorf("cannot load order directory: %w", err)
				}
				a.logger.Info("order directory loaded", "orders", loaded)
				return nil
			},
		})
		return
	}

	if replay == nil {
		return
	}
	a.lifecycle = append(a.lifecycle, apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := subscriber.Replay(ctx, replay); err != nil {
				a.logger.Info("failed to replay order directory", "error", err)
			}
			return nil
		},
	})
}

// janitor periodically drops finished items that no view or recall can reach
// anymore, keeping the in-memory store bounded.
func (a *App) janitor(ctx context.Context) apt.LifecycleHooks {
	janitorCtx, cancel := context.WithCancel(ctx)
	return apt.LifecycleHooks{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(pruneInterval)
				defer ticker.Stop()
				for {
					select {
					case <-janitorCtx.Done():
						return
					case <-ticker.C:
						if removed := a.prune(); removed > 0 {
							a.logger.Debug("pruned finished items", "count", removed)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	}
}

// prune keeps done items while either the recall window or the recently
// fulfilled window can still see them.
func (a *App) prune() int {
	if a.memory == nil {
		return 0
	}
	retention := a.settings.RecallWindow
	if a.settings.RecentWindow > retention {
		retention = a.settings.RecentWindow
	}
	return a.memory.PruneCompleted(a.clock.Now().Add(-retention))
}

func (a *App) setupDemoSeeds(ctx context.Context, orders *kitchen.OrderDirectory) error {
	demoEnabled, _ := a.config.GetString("seeding.demo")
	if demoEnabled != "true" {
		return nil
	}
	if a.mongoRepo == nil {
		a.logger.Info("Demo seeding needs the mongo driver, skipping", "driver", a.driver)
		return nil
	}

	a.logger.Info("Demo seeding enabled for kitchen service")
	seedCtx, cancelSeeds := context.WithCancel(ctx)
	repo := a.mongoRepo
	seedFn := func(startCtx context.Context) error {
		// The database handle exists only once the repo has started.
		return kitchen.DemoSeedingFunc(seedCtx, a.store, orders, repo.GetDatabase(), a.clock, a.logger)(startCtx)
	}
	a.lifecycle = append(a.lifecycle, apt.LifecycleHooks{
		OnStart: seedFn,
		OnStop: func(context.Context) error {
			cancelSeeds()
			return nil
		},
	})
	return nil
}

// Run starts the application
func (a *App) Run(ctx context.Context) error {
	if a.options == nil {
		return fmt.Errorf("%s(%s) not initialized", AppName, AppVersion)
	}

	ms := apt.NewMicro(a.options...)
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := ms.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
