package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/crm"
	"github.com/sells-group/firmsync/internal/crmsync"
	"github.com/sells-group/firmsync/internal/ingest"
	"github.com/sells-group/firmsync/internal/resilience"
	"github.com/sells-group/firmsync/internal/store"
	"github.com/sells-group/firmsync/pkg/attio"
	sfpkg "github.com/sells-group/firmsync/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "firmsync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and brings the schema up to date.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newEngine(st store.Store) *ingest.Engine {
	retry := resilience.FromRetryConfig(
		cfg.Ingest.CommitAttempts,
		cfg.Ingest.BackoffInitialMs,
		cfg.Ingest.BackoffMaxMs,
		2.0,
		0,
	)
	return ingest.NewEngine(st,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithRetry(retry),
	)
}

func initDestination() (crmsync.Destination, error) {
	switch cfg.CRM.Provider {
	case "attio":
		return crmsync.NewAttioDestination(initAttio(), crm.NewMapper(cfg.CRM.CompanyFieldMap, cfg.CRM.PersonFieldMap)), nil
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return crmsync.NewSalesforceDestination(client, resilience.RateLimitRetryConfig()), nil
	default:
		return nil, eris.Errorf("unsupported crm provider: %s", cfg.CRM.Provider)
	}
}

func initAttio() attio.Client {
	retry := resilience.RateLimitRetryConfig()
	if cfg.CRM.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.CRM.MaxAttempts
	}
	return attio.NewClient(cfg.CRM.APIKey,
		attio.WithBaseURL(cfg.CRM.BaseURL),
		attio.WithTimeout(time.Duration(cfg.CRM.TimeoutSecs)*time.Second),
		attio.WithEndpoints(cfg.CRM.CompanyEndpoint, cfg.CRM.PersonEndpoint),
		attio.WithConcurrency(cfg.CRM.CompanyConcurrency, cfg.CRM.PersonConcurrency),
		attio.WithRateLimit(cfg.CRM.RateLimit),
		attio.WithRetry(retry),
	)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (FIRMSYNC_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.CRM.RateLimit)), nil
}

func newSyncer(st store.Store) (*crmsync.Syncer, error) {
	dest, err := initDestination()
	if err != nil {
		return nil, err
	}
	return crmsync.NewSyncer(st, dest, crmsync.WithWorkers(cfg.Sync.Workers)), nil
}
