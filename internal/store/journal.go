package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rahul/makeprogress/internal/protocol"
)

// Generation is one answered plan request as seen by the planning service.
type Generation struct {
	ID        string                 `json:"id"`
	Endpoint  string                 `json:"endpoint"`
	Task      string                 `json:"task"`
	History   int                    `json:"history"`
	Steps     []protocol.StepPayload `json:"steps"`
	Error     string                 `json:"error,omitempty"`
	Elapsed   time.Duration          `json:"elapsed_ns"`
	CreatedAt time.Time              `json:"created_at"`
}

// Journal records generations in a sqlite database. It is operational
// data for the service; clients never read plan state back from it.
type Journal struct {
	DB *sql.DB
}

func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			task TEXT NOT NULL,
			history INTEGER NOT NULL,
			steps TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			elapsed_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS generations_created ON generations (created_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}

	return &Journal{DB: db}, nil
}

func (j *Journal) Record(ctx context.Context, g Generation) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	steps := g.Steps
	if steps == nil {
		steps = []protocol.StepPayload{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return err
	}

	query := `INSERT INTO generations (id, endpoint, task, history, steps, error, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = j.DB.ExecContext(ctx, query,
		g.ID, g.Endpoint, g.Task, g.History, string(data), g.Error,
		g.Elapsed.Milliseconds(), g.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Recent returns up to limit generations, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Generation, error) {
	query := `SELECT id, endpoint, task, history, steps, error, elapsed_ms, created_at
		FROM generations ORDER BY seq DESC LIMIT ?`
	rows, err := j.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gens := []Generation{}
	for rows.Next() {
		var (
			g         Generation
			steps     string
			elapsedMS int64
			created   string
		)
		if err := rows.Scan(&g.ID, &g.Endpoint, &g.Task, &g.History, &steps, &g.Error, &elapsedMS, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(steps), &g.Steps); err != nil {
			return nil, fmt.Errorf("generation %s: %w", g.ID, err)
		}
		g.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if g.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("generation %s: %w", g.ID, err)
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

func (j *Journal) Close() error {
	return j.DB.Close()
}
