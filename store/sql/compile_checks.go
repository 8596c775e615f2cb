package sqlstore

import "github.com/goliatone/go-entitlements/core"

var (
	_ core.LedgerStore            = (*LedgerStore)(nil)
	_ core.EventLog               = (*EventLog)(nil)
	_ core.ProcessedEventStore    = (*ProcessedEventStore)(nil)
	_ core.UserDirectory          = (*UserStore)(nil)
	_ core.IndicatorCatalog       = (*IndicatorStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
