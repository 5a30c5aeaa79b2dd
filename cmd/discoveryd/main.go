// discoveryd is the funding-discovery service binary: it wires the search
// adapter set, query generation, orchestrator, candidate processor, session
// service, and HTTP trigger surface into one process.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/middleware"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/resilience"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/antispam"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/judge"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
	"github.com/kevinhagel/fundingdiscovery/internal/app/httpapi"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/candidateprocessor"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/discovery"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/orchestrator"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querycache"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/sessionsvc"
	"github.com/kevinhagel/fundingdiscovery/internal/app/storage/memory"
	"github.com/kevinhagel/fundingdiscovery/internal/app/storage/postgres"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
	"github.com/kevinhagel/fundingdiscovery/pkg/config"
	"github.com/kevinhagel/fundingdiscovery/pkg/version"
)

// stores bundles every persistence seam the pipeline needs, so the memory
// and postgres backends can be swapped behind one assignment.
type stores struct {
	domains    registry.Store
	sessions   sessionsvc.Store
	candidates candidateprocessor.CandidateStore
	records    querygen.RecordStore
	usage      search.UsageRecorder
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "discoveryd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New("fundingdiscovery", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Init("fundingdiscovery")

	if zl, zerr := zap.NewProduction(); zerr == nil {
		resilience.SetHotPathLogger(zl)
		defer func() { _ = zl.Sync() }()
	}

	ctx := context.Background()

	st, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	domains := registry.New(st.domains, logger)
	adapters := search.BuildRegistry(cfg, logger, m, st.usage)

	qcache, err := querycache.New(cfg.Cache.MaxSize, time.Duration(cfg.Cache.TTLSeconds)*time.Second, m)
	if err != nil {
		return fmt.Errorf("build query cache: %w", err)
	}

	lm := querygen.NewLMClient(cfg.LM.BaseURL, cfg.LM.Model, cfg.LM.Temperature, cfg.LM.MaxTokens, cfg.LM.TimeoutSeconds)
	facade := querygen.New(querygen.BuildStrategies(cfg, lm), qcache, st.records, querygen.Config{
		TimeoutSeconds:  cfg.Querygen.TimeoutSeconds,
		FallbackQueries: cfg.Querygen.FallbackQueries,
	}, logger)

	orch := orchestrator.New(adapters, antispam.New(antispam.DefaultConfig()), domains,
		orchestrator.Config{BatchDeadlineSeconds: cfg.Orchestrator.BatchDeadlineSeconds}, logger, m)
	proc := candidateprocessor.New(domains, judge.New(judgeConfig(cfg.Judge)), st.candidates, 10, logger, m)

	scheduled := scheduledRequest(cfg.Scheduler)

	// The scheduler fires through the runner, and the runner drives the
	// session service; break the construction cycle with a late-bound
	// closure.
	var runner *discovery.Runner
	cronExpr := ""
	if cfg.Scheduler.Enabled {
		cronExpr = cfg.Scheduler.CronSchedule
	}
	sessions := sessionsvc.New(st.sessions, logger, cronExpr, func(ctx context.Context) error {
		return runner.TriggerScheduled(ctx)
	})
	runner = discovery.New(sessions, facade, orch, proc, scheduled, logger)

	handler := httpapi.NewHandler(runner, sessions, adapters, qcache, scheduled, logger)
	if reader, ok := st.usage.(search.UsageReader); ok {
		handler.SetUsageReader(reader)
	}
	server := httpapi.NewServer(cfg.Server, handler, logger, m)
	handler.RegisterServices(server, sessions, runner)

	services := []system.Service{runner, sessions, server}
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	logger.Info(ctx, "discoveryd started", map[string]interface{}{
		"version": version.Version,
		"addr":    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	})

	shutdown := middleware.NewGracefulShutdown(nil, 30*time.Second)
	shutdown.OnShutdown(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(stopCtx); err != nil {
				logger.Error(stopCtx, "service stop failed", err, map[string]interface{}{
					"service": services[i].Name(),
				})
			}
		}
	})
	shutdown.ListenForSignals()
	shutdown.Wait()

	logger.Info(ctx, "discoveryd stopped", nil)
	return nil
}

// openStores selects the persistence backend: postgres in production, the
// in-memory store when DATABASE_DRIVER=memory (local runs without a
// database).
func openStores(ctx context.Context, cfg *config.Config) (stores, func(), error) {
	if cfg.Database.Driver == "memory" {
		ms := memory.New()
		return stores{
			domains:    ms,
			sessions:   ms,
			candidates: ms,
			records:    ms,
			usage:      ms,
		}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("ping database: %w", err)
	}

	ps := postgres.New(db)
	if cfg.Database.MigrateOnStart {
		if err := ps.Migrate(); err != nil {
			db.Close()
			return stores{}, nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	return stores{
		domains:    ps,
		sessions:   ps,
		candidates: ps,
		records:    ps,
		usage:      ps,
	}, func() { db.Close() }, nil
}

func judgeConfig(jc config.JudgeConfig) judge.Config {
	return judge.Config{
		Threshold:                  jc.Threshold,
		FundingKeywords:            jc.FundingKeywords,
		FundingKeywordWeight:       jc.FundingKeywordWeight,
		FundingKeywordSaturation:   jc.FundingKeywordSaturation,
		ScamPatterns:               jc.ScamPatterns,
		CredibleTLDs:               jc.CredibleTLDs,
		DomainCredibilityWeight:    jc.DomainCredibilityWeight,
		GeographicKeywords:         jc.GeographicKeywords,
		GeographicWeight:           jc.GeographicWeight,
		GeographicSaturation:       jc.GeographicSaturation,
		OrganizationTypeKeywords:   jc.OrganizationTypeKws,
		OrganizationTypeWeight:     jc.OrganizationTypeWeight,
		OrganizationTypeSaturation: jc.OrganizationTypeSaturation,
	}
}

func scheduledRequest(sc config.SchedulerConfig) discovery.Request {
	req := discovery.Request{
		SessionType:     model.SessionScheduled,
		GeographicScope: sc.GeographicScope,
		MaxResults:      sc.MaxResults,
	}
	for _, e := range sc.Engines {
		req.Engines = append(req.Engines, model.SearchEngine(e))
	}
	for _, c := range sc.Categories {
		req.Categories = append(req.Categories, model.Category(c))
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 10
	}
	return req
}
