package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"workstories/internal/ledger"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_periods (
		period_key   TEXT PRIMARY KEY,
		period_start DATETIME NOT NULL,
		period_end   DATETIME NOT NULL,
		cost_usd     REAL NOT NULL DEFAULT 0,
		budget_usd   REAL NOT NULL DEFAULT 0,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS usage_tiers (
		period_key TEXT NOT NULL,
		tier       TEXT NOT NULL,
		requests   INTEGER NOT NULL DEFAULT 0,
		cost_usd   REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (period_key, tier)
	);

	CREATE TABLE IF NOT EXISTS usage_providers (
		period_key TEXT NOT NULL,
		provider   TEXT NOT NULL,
		requests   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (period_key, provider)
	);

	CREATE TABLE IF NOT EXISTS correlation_runs (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		mode              TEXT NOT NULL,
		started_at        DATETIME NOT NULL,
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		items             INTEGER NOT NULL DEFAULT 0,
		relationships     INTEGER NOT NULL DEFAULT 0,
		stories           INTEGER NOT NULL DEFAULT 0,
		coverage_pct      REAL NOT NULL DEFAULT 0,
		cost_usd          REAL NOT NULL DEFAULT 0,
		cancelled         INTEGER NOT NULL DEFAULT 0,
		warnings          INTEGER NOT NULL DEFAULT 0,
		report_path       TEXT DEFAULT '',
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON correlation_runs(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SaveUsage replaces the stored usage of the snapshot's period.
func SaveUsage(db *sql.DB, snap ledger.Snapshot) error {
	if snap.PeriodStart.IsZero() {
		return fmt.Errorf("save usage: snapshot has no period")
	}
	key := ledger.PeriodKey(snap.PeriodStart)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO usage_periods (period_key, period_start, period_end, cost_usd, budget_usd, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(period_key) DO UPDATE SET
		   period_start = excluded.period_start,
		   period_end = excluded.period_end,
		   cost_usd = excluded.cost_usd,
		   budget_usd = excluded.budget_usd,
		   updated_at = CURRENT_TIMESTAMP`,
		key, snap.PeriodStart.UTC(), snap.PeriodEnd.UTC(), snap.Cost, snap.Limit,
	)
	if err != nil {
		return fmt.Errorf("save usage period %s: %w", key, err)
	}
	if _, err := tx.Exec(`DELETE FROM usage_tiers WHERE period_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM usage_providers WHERE period_key = ?`, key); err != nil {
		return err
	}
	for tier, u := range snap.ByTier {
		if _, err := tx.Exec(
			`INSERT INTO usage_tiers (period_key, tier, requests, cost_usd) VALUES (?, ?, ?, ?)`,
			key, tier, u.Requests, u.Cost,
		); err != nil {
			return fmt.Errorf("save usage tier %s: %w", tier, err)
		}
	}
	for provider, n := range snap.ByProvider {
		if _, err := tx.Exec(
			`INSERT INTO usage_providers (period_key, provider, requests) VALUES (?, ?, ?)`,
			key, provider, n,
		); err != nil {
			return fmt.Errorf("save usage provider %s: %w", provider, err)
		}
	}
	return tx.Commit()
}

// LoadUsage returns the stored usage for the period starting at start. ok is
// false when nothing was recorded yet.
func LoadUsage(db *sql.DB, start time.Time) (snap ledger.Snapshot, ok bool, err error) {
	key := ledger.PeriodKey(start)
	err = db.QueryRow(
		`SELECT period_start, period_end, cost_usd, budget_usd FROM usage_periods WHERE period_key = ?`,
		key,
	).Scan(&snap.PeriodStart, &snap.PeriodEnd, &snap.Cost, &snap.Limit)
	if err == sql.ErrNoRows {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("load usage period %s: %w", key, err)
	}

	snap.ByTier = make(map[string]ledger.TierUsage)
	rows, err := db.Query(`SELECT tier, requests, cost_usd FROM usage_tiers WHERE period_key = ? ORDER BY tier`, key)
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	for rows.Next() {
		var tier string
		var u ledger.TierUsage
		if err := rows.Scan(&tier, &u.Requests, &u.Cost); err != nil {
			rows.Close()
			return ledger.Snapshot{}, false, err
		}
		snap.ByTier[tier] = u
		snap.Requests += u.Requests
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, false, err
	}

	snap.ByProvider = make(map[string]int)
	rows, err = db.Query(`SELECT provider, requests FROM usage_providers WHERE period_key = ? ORDER BY provider`, key)
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return ledger.Snapshot{}, false, err
		}
		snap.ByProvider[provider] = n
	}
	return snap, true, rows.Err()
}

type RunRecord struct {
	ID            int64
	Mode          string
	StartedAt     time.Time
	DurationMs    int64
	Items         int
	Relationships int
	Stories       int
	CoveragePct   float64
	CostUSD       float64
	Cancelled     bool
	Warnings      int
	ReportPath    string
	CreatedAt     time.Time
}

func InsertRun(db *sql.DB, r RunRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO correlation_runs (mode, started_at, duration_ms, items, relationships, stories, coverage_pct, cost_usd, cancelled, warnings, report_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Mode, r.StartedAt.UTC(), r.DurationMs, r.Items, r.Relationships, r.Stories,
		r.CoveragePct, r.CostUSD, r.Cancelled, r.Warnings, r.ReportPath,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetRunsByDateRange(db *sql.DB, from, to time.Time) ([]RunRecord, error) {
	rows, err := db.Query(
		`SELECT id, mode, started_at, duration_ms, items, relationships, stories, coverage_pct, cost_usd, cancelled, warnings, report_path, created_at
		 FROM correlation_runs WHERE started_at >= ? AND started_at < ? ORDER BY started_at, id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(
			&r.ID, &r.Mode, &r.StartedAt, &r.DurationMs, &r.Items, &r.Relationships,
			&r.Stories, &r.CoveragePct, &r.CostUSD, &r.Cancelled, &r.Warnings,
			&r.ReportPath, &r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
