package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workstories/internal/config"
	"workstories/internal/correlate"
	"workstories/internal/embedding"
	"workstories/internal/httpx"
	slackbot "workstories/internal/integrations/slack"
	"workstories/internal/integrations/llm"
	"workstories/internal/ledger"
	"workstories/internal/normalize"
	"workstories/internal/report"
	"workstories/internal/schedule"
	"workstories/internal/storage/sqlite"
	"workstories/internal/story"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.Configure(cfg.ExternalHTTPTimeoutSeconds, cfg.Engine.CallTimeout(), cfg.Engine.FanOut)
	log.Printf(
		"Config loaded. Mode=%s Budget=$%.2f Embedding=%s LLM=%s Timezone=%s CorrelateSchedule=%q ExternalHTTPTimeout=%s",
		cfg.CorrelationMode,
		cfg.MonthlyBudgetUSD,
		cfg.EmbeddingProvider,
		cfg.LLMProvider,
		cfg.Timezone,
		cfg.CorrelateSchedule,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	os.MkdirAll(cfg.ReportOutputDir, 0755)
	log.Printf("Report output dir: %s", cfg.ReportOutputDir)

	var notifier *slackbot.Notifier
	if cfg.SlackConfigured() {
		notifier = slackbot.NewNotifier(cfg.SlackBotToken, cfg.BudgetAlertChannelID)
	}

	r, err := newRunner(cfg, db, notifier, time.Now())
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CorrelateSchedule == "" {
		if _, err := r.correlateOnce(ctx); err != nil {
			log.Fatalf("Correlation failed: %v", err)
		}
		return
	}

	if err := schedule.Start(ctx, schedule.Job{
		Name:     "budget reset",
		Spec:     cfg.BudgetResetSchedule,
		Location: cfg.Location,
		Run:      func(context.Context) { r.resetBudget(time.Now()) },
	}); err != nil {
		log.Fatalf("Budget reset schedule: %v", err)
	}
	if err := schedule.Start(ctx, schedule.Job{
		Name:     "correlation",
		Spec:     cfg.CorrelateSchedule,
		Location: cfg.Location,
		Run: func(ctx context.Context) {
			if _, err := r.correlateOnce(ctx); err != nil {
				log.Printf("correlation run error: %v", err)
			}
		},
	}); err != nil {
		log.Fatalf("Correlation schedule: %v", err)
	}

	log.Println("Starting work story correlation service...")
	<-ctx.Done()
	log.Printf("Shutting down: %v", ctx.Err())
}

// runner owns one engine and the persistence around its runs.
type runner struct {
	cfg      config.Config
	db       *sql.DB
	ledger   *ledger.Ledger
	engine   *correlate.Engine
	notifier *slackbot.Notifier
	now      func() time.Time
}

func newRunner(cfg config.Config, db *sql.DB, notifier *slackbot.Notifier, now time.Time) (*runner, error) {
	l, err := restoreLedger(db, cfg.MonthlyBudgetUSD, cfg.Location, now)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		l.OnExhausted(notifier.BudgetExhausted)
	}

	pricing := ledger.DefaultPricing()
	pricing.Merge(cfg.Pricing)

	var embedder embedding.Provider
	if cfg.EmbeddingProvider != "none" {
		embedder, err = embedding.New(cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.OpenAIAPIKey, cfg.OllamaURL, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		if _, priced := pricing.Lookup(embedder.Model()); !priced && embedder.Name() == "ollama" {
			pricing[embedder.Model()] = ledger.ModelPricing{}
		}
	}
	client, err := llm.New(cfg.LLMProvider, cfg.LLMModel, cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	catalog := story.DefaultCatalog()
	if cfg.TechnologyCatalogPath != "" {
		if catalog, err = story.LoadCatalog(cfg.TechnologyCatalogPath); err != nil {
			return nil, err
		}
	}

	engine := correlate.New(correlate.Config{
		Ledger:   l,
		Pricing:  pricing,
		Embedder: embedder,
		LLM:      client,
		Catalog:  catalog,
		Location: cfg.Location,
	})
	st := engine.Status()
	log.Printf("engine ready version=%s embedding=%v(%s) llm=%v(%s) budget=%s remaining=$%.4f unlimited=%v",
		st.Version, st.EmbeddingEnabled, st.EmbeddingProvider, st.LLMEnabled, st.LLMProvider, st.BudgetState, st.RemainingUSD, st.Unlimited)

	return &runner{cfg: cfg, db: db, ledger: l, engine: engine, notifier: notifier, now: time.Now}, nil
}

// restoreLedger builds the ledger for the billing period containing now
// and loads any usage already persisted for it.
func restoreLedger(db *sql.DB, limit float64, loc *time.Location, now time.Time) (*ledger.Ledger, error) {
	l := ledger.New(limit)
	start, end := ledger.MonthPeriod(now, loc)
	l.SetPeriod(start, end)
	snap, ok, err := sqlite.LoadUsage(db, start)
	if err != nil {
		return nil, fmt.Errorf("load usage for %s: %w", ledger.PeriodKey(start), err)
	}
	if ok {
		l.Restore(snap)
		log.Printf("usage restored period=%s cost=$%.4f requests=%d", ledger.PeriodKey(start), snap.Cost, snap.Requests)
	}
	return l, nil
}

func (r *runner) resetBudget(now time.Time) {
	start, end := ledger.MonthPeriod(now, r.cfg.Location)
	r.ledger.Reset(start, end)
	if err := sqlite.SaveUsage(r.db, r.ledger.Snapshot()); err != nil {
		log.Printf("usage save error after reset: %v", err)
		return
	}
	log.Printf("budget reset period=%s limit=$%.2f", ledger.PeriodKey(start), r.cfg.MonthlyBudgetUSD)
}

// correlateOnce reads the evidence file, runs the engine, writes the
// report and records usage and run history.
func (r *runner) correlateOnce(ctx context.Context) (correlate.Response, error) {
	started := r.now().In(r.cfg.Location)
	records, err := readRecords(r.cfg.InputPath)
	if err != nil {
		return correlate.Response{}, err
	}
	log.Printf("correlation start input=%s records=%d mode=%s", r.cfg.InputPath, len(records), r.cfg.CorrelationMode)

	opts := r.cfg.Engine
	var resp correlate.Response
	if r.cfg.RuleBasedOnly() {
		resp, err = r.engine.CorrelateRecordsRuleBased(ctx, records, opts)
	} else {
		resp, err = r.engine.CorrelateRecords(ctx, records, opts)
	}
	if err != nil {
		return correlate.Response{}, err
	}

	path, err := report.WriteReportFiles(resp, r.cfg.ReportOutputDir, started)
	if err != nil {
		return resp, fmt.Errorf("write report: %w", err)
	}
	if err := sqlite.SaveUsage(r.db, r.ledger.Snapshot()); err != nil {
		return resp, fmt.Errorf("save usage: %w", err)
	}
	_, err = sqlite.InsertRun(r.db, sqlite.RunRecord{
		Mode:          string(resp.Mode),
		StartedAt:     started,
		DurationMs:    resp.ProcessingTimeMs,
		Items:         resp.ItemsProcessed,
		Relationships: resp.RelationshipsDetected,
		Stories:       resp.WorkStoriesCreated,
		CoveragePct:   resp.CorrelationCoverage,
		CostUSD:       resp.RunCost,
		Cancelled:     resp.Cancelled,
		Warnings:      len(resp.Warnings),
		ReportPath:    path,
	})
	if err != nil {
		return resp, fmt.Errorf("record run: %w", err)
	}
	log.Printf("correlation done report=%s stories=%d relationships=%d cost=$%.4f warnings=%d",
		path, resp.WorkStoriesCreated, resp.RelationshipsDetected, resp.RunCost, len(resp.Warnings))

	if err := r.notifier.RunSummary(resp); err != nil {
		log.Printf("run summary post error: %v", err)
	}
	return resp, nil
}

// readRecords accepts either a bare JSON array of records or an object
// with a "records" array.
func readRecords(path string) ([]normalize.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence %s: %w", path, err)
	}
	var records []normalize.Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Records []normalize.Record `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse evidence %s: %w", path, err)
	}
	return wrapped.Records, nil
}
