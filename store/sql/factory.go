package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entitlements/core"
)

type RepositoryFactory struct {
	db             *bun.DB
	indicatorCache repositorycache.CacheService

	ledgerStore         *LedgerStore
	eventLog            *EventLog
	processedEventStore *ProcessedEventStore
	userStore           *UserStore
	indicatorStore      *IndicatorStore
	catalog             core.IndicatorCatalog
}

type FactoryOption func(*RepositoryFactory)

// WithIndicatorCache fronts the indicator catalog with the given cache.
func WithIndicatorCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.indicatorCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.ledgerStore != nil && f.eventLog != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) LedgerStore() core.LedgerStore {
	if f == nil {
		return nil
	}
	return f.ledgerStore
}

func (f *RepositoryFactory) EventLog() core.EventLog {
	if f == nil {
		return nil
	}
	return f.eventLog
}

func (f *RepositoryFactory) ProcessedEventStore() core.ProcessedEventStore {
	if f == nil {
		return nil
	}
	return f.processedEventStore
}

func (f *RepositoryFactory) UserDirectory() core.UserDirectory {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) IndicatorCatalog() core.IndicatorCatalog {
	if f == nil {
		return nil
	}
	return f.catalog
}

func (f *RepositoryFactory) Users() *UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) Indicators() *IndicatorStore {
	if f == nil {
		return nil
	}
	return f.indicatorStore
}

func (f *RepositoryFactory) initStores() error {
	ledgerStore, err := NewLedgerStore(f.db)
	if err != nil {
		return err
	}
	f.ledgerStore = ledgerStore
	eventLog, err := NewEventLog(f.db)
	if err != nil {
		return err
	}
	f.eventLog = eventLog
	processedEventStore, err := NewProcessedEventStore(f.db)
	if err != nil {
		return err
	}
	f.processedEventStore = processedEventStore
	userStore, err := NewUserStore(f.db)
	if err != nil {
		return err
	}
	f.userStore = userStore
	indicatorStore, err := NewIndicatorStore(f.db)
	if err != nil {
		return err
	}
	f.indicatorStore = indicatorStore
	f.catalog = indicatorStore
	if f.indicatorCache != nil {
		cached, err := NewCachedIndicatorCatalog(indicatorStore, f.indicatorCache)
		if err != nil {
			return err
		}
		f.catalog = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
