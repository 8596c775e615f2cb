package core

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Service is the access orchestrator. It is the only writer of the ledger
// and the event log.
type Service struct {
	config              Config
	logger              Logger
	loggerProvider      LoggerProvider
	metricsRecorder     MetricsRecorder
	errorMapper         ErrorMapper
	persistenceClient   any
	repositoryFactory   any
	configProvider      ConfigProvider
	optionsResolver     OptionsResolver
	gateway             AccessGateway
	ledgerStore         LedgerStore
	eventLog            EventLog
	processedEventStore ProcessedEventStore
	userDirectory       UserDirectory
	indicatorCatalog    IndicatorCatalog
	userLocker          UserLocker
	now                 func() time.Time
}

type ServiceDependencies struct {
	Logger              Logger
	LoggerProvider      LoggerProvider
	MetricsRecorder     MetricsRecorder
	ErrorMapper         ErrorMapper
	PersistenceClient   any
	RepositoryFactory   any
	ConfigProvider      ConfigProvider
	OptionsResolver     OptionsResolver
	Gateway             AccessGateway
	LedgerStore         LedgerStore
	EventLog            EventLog
	ProcessedEventStore ProcessedEventStore
	UserDirectory       UserDirectory
	IndicatorCatalog    IndicatorCatalog
	UserLocker          UserLocker
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("entitlements", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("entitlements"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.ledgerStore == nil {
				builder.ledgerStore = stores.LedgerStore()
			}
			if builder.eventLog == nil {
				builder.eventLog = stores.EventLog()
			}
			if builder.processedEventStore == nil {
				builder.processedEventStore = stores.ProcessedEventStore()
			}
			if builder.userDirectory == nil {
				builder.userDirectory = stores.UserDirectory()
			}
			if builder.indicatorCatalog == nil {
				builder.indicatorCatalog = stores.IndicatorCatalog()
			}
		}
	}
	if builder.processedEventStore == nil {
		builder.processedEventStore = NewMemoryProcessedEventStore()
	}
	if builder.userLocker == nil {
		builder.userLocker = NewMemoryUserLocker(finalConfig.Locking.Timeout)
	}

	return &Service{
		config:              finalConfig,
		logger:              logger,
		loggerProvider:      provider,
		metricsRecorder:     builder.metricsRecorder,
		errorMapper:         builder.errorMapper,
		persistenceClient:   builder.persistenceClient,
		repositoryFactory:   builder.repositoryFactory,
		configProvider:      builder.configProvider,
		optionsResolver:     builder.optionsResolver,
		gateway:             builder.gateway,
		ledgerStore:         builder.ledgerStore,
		eventLog:            builder.eventLog,
		processedEventStore: builder.processedEventStore,
		userDirectory:       builder.userDirectory,
		indicatorCatalog:    builder.indicatorCatalog,
		userLocker:          builder.userLocker,
		now:                 builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:              s.logger,
		LoggerProvider:      s.loggerProvider,
		MetricsRecorder:     s.metricsRecorder,
		ErrorMapper:         s.errorMapper,
		PersistenceClient:   s.persistenceClient,
		RepositoryFactory:   s.repositoryFactory,
		ConfigProvider:      s.configProvider,
		OptionsResolver:     s.optionsResolver,
		Gateway:             s.gateway,
		LedgerStore:         s.ledgerStore,
		EventLog:            s.eventLog,
		ProcessedEventStore: s.processedEventStore,
		UserDirectory:       s.userDirectory,
		IndicatorCatalog:    s.indicatorCatalog,
		UserLocker:          s.userLocker,
	}
}

// NewReconciliationChecker builds a checker that shares this service's
// read-side dependencies.
func (s *Service) NewReconciliationChecker() (*ReconciliationChecker, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	return NewReconciliationChecker(
		s.ledgerStore,
		s.gateway,
		s.userDirectory,
		s.indicatorCatalog,
		WithReconciliationClock(s.now),
		WithReconciliationLogger(s.logger),
	)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) requireMutationDeps() error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.gateway == nil {
		return fmt.Errorf("core: access gateway is required")
	}
	if s.ledgerStore == nil {
		return fmt.Errorf("core: ledger store is required")
	}
	if s.userDirectory == nil {
		return fmt.Errorf("core: user directory is required")
	}
	if s.indicatorCatalog == nil {
		return fmt.Errorf("core: indicator catalog is required")
	}
	return nil
}

// withUserLock runs fn while holding the per-user mutation lock.
func (s *Service) withUserLock(ctx context.Context, userID string, fn func() error) error {
	if s.userLocker == nil {
		return fn()
	}
	handle, err := s.userLocker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer func() {
		_ = handle.Unlock(context.Background())
	}()
	return fn()
}
