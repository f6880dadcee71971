// Package app assembles the fiscal engine from a storage backend.
package app

import (
	"context"
	"fmt"

	"shopfiscal/internal/config"
	"shopfiscal/internal/core/tx"
	"shopfiscal/internal/domain/audit"
	"shopfiscal/internal/domain/calculator"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/ledger"
	"shopfiscal/internal/domain/obligation"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/internal/infrastructure/cache"
	"shopfiscal/internal/infrastructure/metrics"
	"shopfiscal/internal/infrastructure/storage/memory"
	"shopfiscal/internal/infrastructure/storage/postgres"
	"shopfiscal/internal/infrastructure/storage/postgres/catalog_repo"
	"shopfiscal/internal/infrastructure/storage/postgres/ledger_repo"
	"shopfiscal/internal/infrastructure/storage/postgres/obligation_repo"
	"shopfiscal/internal/infrastructure/storage/postgres/rule_repo"
	"shopfiscal/internal/infrastructure/storage/postgres/setting_repo"
	"shopfiscal/pkg/logger"
)

// Engine is the set of fiscal services sharing one storage backend.
type Engine struct {
	Catalog     *catalog.Catalog
	Settings    *setting.Service
	Rules       *rule.Service
	Calculator  *calculator.Calculator
	Ledgers     *ledger.Service
	Obligations *obligation.Service
	Audit       *audit.Service

	CatalogCache *cache.Catalog
	Tunables     *config.TunablesHolder

	ping    func(ctx context.Context) error
	onStart func(ctx context.Context)
	onClose func()
}

// Options carries the shared dependencies of a backend.
type Options struct {
	Tunables *config.TunablesHolder
	// Metrics is optional.
	Metrics *metrics.Metrics
}

func (o Options) tunables() *config.TunablesHolder {
	if o.Tunables == nil {
		return config.NewStaticTunables(config.DefaultTunables())
	}
	return o.Tunables
}

// backend is what a storage driver contributes.
type backend struct {
	txManager   tx.Manager
	locker      tx.PeriodLocker
	txs         cache.TxDetector
	catalogs    catalog.Repositories
	settings    setting.Repository
	rules       rule.Repository
	ledgers     ledger.Repository
	obligations obligation.Repository
	audit       audit.Repository
}

// NewMemoryEngine builds an engine over a fresh in-memory store.
func NewMemoryEngine(opts Options) *Engine {
	store := memory.NewStore()
	return build(backend{
		txManager:   store,
		locker:      store,
		txs:         store,
		catalogs:    store.CatalogRepositories(),
		settings:    store.Settings(),
		rules:       store.Rules(),
		ledgers:     store.Ledgers(),
		obligations: store.Obligations(),
		audit:       store.Audit(),
	}, opts)
}

// NewPostgresEngine builds an engine over pool. Start begins cache invalidation.
func NewPostgresEngine(pool *postgres.Pool, opts Options) (*Engine, error) {
	tunables := opts.tunables()
	txm := postgres.NewTxManager(pool, tunables)

	auditRepo, err := postgres.NewAuditRepo(txm, tunables)
	if err != nil {
		return nil, fmt.Errorf("create audit repository: %w", err)
	}

	e := build(backend{
		txManager:   txm,
		locker:      txm,
		txs:         txm,
		catalogs:    catalog_repo.NewRepositories(txm),
		settings:    setting_repo.NewSettingRepo(txm),
		rules:       rule_repo.NewRuleRepo(txm),
		ledgers:     ledger_repo.NewLedgerRepo(txm),
		obligations: obligation_repo.NewObligationRepo(txm),
		audit:       auditRepo,
	}, opts)

	listener := postgres.NewCatalogListener(pool, e.CatalogCache.Invalidate)
	e.ping = pool.Ping
	e.onStart = listener.Start
	e.onClose = listener.Stop
	return e, nil
}

func build(b backend, opts Options) *Engine {
	tunables := opts.tunables()

	// Typed nil observers would defeat the services' nil checks.
	var (
		calcObserver       calculator.Observer
		ruleObserver       rule.Observer
		ledgerObserver     ledger.Observer
		obligationObserver obligation.Observer
	)
	if opts.Metrics != nil {
		calcObserver = opts.Metrics
		ruleObserver = opts.Metrics
		ledgerObserver = opts.Metrics
		obligationObserver = opts.Metrics
	}

	catalogCache := cache.NewCatalog(b.txs)
	if opts.Metrics != nil {
		opts.Metrics.RegisterCatalogCache(catalogCache)
	}

	auditSvc := audit.NewService(b.audit, tunables)
	cat := catalog.New(cache.WrapRepositories(b.catalogs, catalogCache), b.txManager, auditSvc)
	if opts.Metrics != nil {
		cat.ObserveCreates(opts.Metrics)
	}
	settings := setting.NewService(b.settings, cat, b.txManager, auditSvc)
	rules := rule.NewService(b.rules, cat, b.txManager, auditSvc, tunables, ruleObserver)
	calc := calculator.New(rules, settings, cat.TaxTypes, tunables, calcObserver)
	ledgers := ledger.NewService(b.ledgers, b.txManager, b.locker, auditSvc, b.rules, tunables, ledgerObserver)
	obligations := obligation.NewService(b.obligations, cat.ObligationKinds, ledgers, b.txManager, auditSvc, tunables, obligationObserver)

	return &Engine{
		Catalog:      cat,
		Settings:     settings,
		Rules:        rules,
		Calculator:   calc,
		Ledgers:      ledgers,
		Obligations:  obligations,
		Audit:        auditSvc,
		CatalogCache: catalogCache,
		Tunables:     tunables,
	}
}

// Start launches background work of the backend.
func (e *Engine) Start(ctx context.Context) {
	if e.onStart != nil {
		e.onStart(ctx)
	}
	logger.Info(ctx, "fiscal engine started")
}

// Close stops background work.
func (e *Engine) Close() {
	if e.onClose != nil {
		e.onClose()
	}
}

// Ready reports whether the backend can serve requests.
func (e *Engine) Ready(ctx context.Context) error {
	if e.ping == nil {
		return nil
	}
	return e.ping(ctx)
}
