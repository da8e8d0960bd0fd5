// Package export regenerates the derived, read-only views of the profile: a
// portable SQLite database and a markdown summary. Both are rebuilt from
// scratch on every export.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/persona-curator/internal/profile"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// Exporter writes exports/profile.db and exports/summary.md.
type Exporter struct {
	dbPath      string
	summaryPath string
	fsys        storage.FS
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates an Exporter.
func New(dbPath, summaryPath string, fsys storage.FS, logger zerolog.Logger) *Exporter {
	if fsys == nil {
		fsys = storage.OS{}
	}
	return &Exporter{
		dbPath:      dbPath,
		summaryPath: summaryPath,
		fsys:        fsys,
		logger:      logger.With().Str("component", "export").Logger(),
		now:         time.Now,
	}
}

// Export rebuilds both views from p and ev.
func (e *Exporter) Export(ctx context.Context, p *profile.Profile, ev *profile.EvidenceLog) error {
	if err := e.exportDB(ctx, p, ev); err != nil {
		return err
	}
	if err := e.fsys.WriteFile(e.summaryPath, []byte(Summary(p, ev, e.now())), 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", e.summaryPath, err)
	}
	e.logger.Info().
		Int("growth_entries", len(p.AllEntries())).
		Int("evidence_entries", len(ev.Entries)).
		Msg("exports regenerated")
	return nil
}

func (e *Exporter) open() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(e.dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profile (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		summary TEXT NOT NULL,
		tier INTEGER NOT NULL,
		channel TEXT,
		candidate_id TEXT,
		artifact_path TEXT,
		artifact_sha256 TEXT
	);

	CREATE TABLE IF NOT EXISTS growth (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		text TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		added TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_growth_category ON growth(category);
	CREATE INDEX IF NOT EXISTS idx_growth_evidence ON growth(evidence_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("export schema: %w", err)
	}
	return nil
}

func (e *Exporter) exportDB(ctx context.Context, p *profile.Profile, ev *profile.EvidenceLog) error {
	db, err := e.open()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("export: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"profile", "evidence", "growth"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("export: clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		"user_id":     p.UserID,
		"name":        p.Name,
		"traits":      strings.Join(p.Personality.Traits, ", "),
		"description": p.Personality.Description,
	}
	for k, v := range p.Identity {
		meta["identity."+k] = v
	}
	for k, v := range p.Preferences {
		meta["preferences."+k] = v
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO profile (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("export: insert profile %s: %w", k, err)
		}
	}

	for _, en := range ev.Entries {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO evidence (id, date, summary, tier, channel, candidate_id, artifact_path, artifact_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			en.ID, en.Date, en.Summary, en.Tier,
			nullString(en.Channel), nullString(en.CandidateID),
			nullString(en.ArtifactPath), nullString(en.ArtifactSHA256),
		)
		if err != nil {
			return fmt.Errorf("export: insert evidence %s: %w", en.ID, err)
		}
	}

	for _, g := range p.AllEntries() {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO growth (id, category, text, evidence_id, added)
		VALUES (?, ?, ?, ?, ?)`,
			g.ID, string(g.Category), g.Text, g.EvidenceID, nullString(g.Added),
		)
		if err != nil {
			return fmt.Errorf("export: insert growth %s: %w", g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("export: commit: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Stats summarizes the last export.
type Stats struct {
	Growth   map[profile.Category]int
	Evidence int
	// Unlinked counts growth rows whose evidence_id has no evidence row.
	Unlinked int
}

// Stats reads counts back from the exported database.
func (e *Exporter) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Growth: make(map[profile.Category]int)}
	if _, err := os.Stat(e.dbPath); err != nil {
		return st, fmt.Errorf("export: %s: %w", e.dbPath, err)
	}
	db, err := e.open()
	if err != nil {
		return st, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT category, COUNT(*) FROM growth GROUP BY category`)
	if err != nil {
		return st, fmt.Errorf("export: count growth: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return st, fmt.Errorf("export: scan growth: %w", err)
		}
		st.Growth[profile.Category(cat)] = n
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("export: iterate growth: %w", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence`).Scan(&st.Evidence); err != nil {
		return st, fmt.Errorf("export: count evidence: %w", err)
	}
	err = db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM growth g
	LEFT JOIN evidence e ON e.id = g.evidence_id
	WHERE e.id IS NULL`).Scan(&st.Unlinked)
	if err != nil {
		return st, fmt.Errorf("export: count unlinked: %w", err)
	}
	return st, nil
}
