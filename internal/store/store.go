package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/monateaches/assessment/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps a configuration value to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPostgres:
		drvName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite && strings.HasPrefix(dsn, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS assessments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_name TEXT NOT NULL,
	child_name TEXT NOT NULL,
	parent_email TEXT NOT NULL,
	key_stage TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL DEFAULT 0,
	total_questions INTEGER NOT NULL DEFAULT 0,
	expectations TEXT NOT NULL DEFAULT '',
	detailed_results TEXT NOT NULL DEFAULT '',
	submitted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_submitted_at ON assessments(submitted_at);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'admin',
	created_at DATETIME NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS assessments (
	id BIGSERIAL PRIMARY KEY,
	parent_name TEXT NOT NULL,
	child_name TEXT NOT NULL,
	parent_email TEXT NOT NULL,
	key_stage TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL DEFAULT 0,
	total_questions INTEGER NOT NULL DEFAULT 0,
	expectations TEXT NOT NULL DEFAULT '',
	detailed_results TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_submitted_at ON assessments(submitted_at);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'admin',
	created_at TIMESTAMPTZ NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const submissionColumns = `id, parent_name, child_name, parent_email, key_stage, score, total_questions, expectations, submitted_at`

// InsertSubmission stores a submission and returns its id.
func (s *Store) InsertSubmission(sub model.Submission) (int64, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRow(s.rebind(
		`INSERT INTO assessments (parent_name, child_name, parent_email, key_stage, score, total_questions, expectations, detailed_results, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		sub.ParentName, sub.ChildName, sub.ParentEmail, sub.KeyStage, sub.Score, sub.TotalQuestions,
		sub.Expectations, string(sub.DetailedResults), sub.SubmittedAt.UTC(),
	).Scan(&id)
	return id, err
}

// ListSubmissions returns submission summaries, newest first. Filter fields
// match case-insensitive substrings.
func (s *Store) ListSubmissions(f model.SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM assessments WHERE 1=1`
	var args []any
	if f.ChildName != "" {
		query += ` AND LOWER(child_name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.ChildName))
	}
	if f.ParentEmail != "" {
		query += ` AND LOWER(parent_email) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.ParentEmail))
	}
	query += ` ORDER BY submitted_at DESC, id DESC`

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.ParentName, &sub.ChildName, &sub.ParentEmail, &sub.KeyStage,
			&sub.Score, &sub.TotalQuestions, &sub.Expectations, &sub.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}

// GetSubmission returns a submission with its detailed results, or nil if
// it does not exist.
func (s *Store) GetSubmission(id int64) (*model.Submission, error) {
	var sub model.Submission
	var detailed string
	err := s.db.QueryRow(s.rebind(
		`SELECT `+submissionColumns+`, detailed_results FROM assessments WHERE id = ?`), id,
	).Scan(&sub.ID, &sub.ParentName, &sub.ChildName, &sub.ParentEmail, &sub.KeyStage,
		&sub.Score, &sub.TotalQuestions, &sub.Expectations, &sub.SubmittedAt, &detailed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.DetailedResults = []byte(detailed)
	return &sub, nil
}

// DeleteSubmission removes a submission and reports whether it existed.
func (s *Store) DeleteSubmission(id int64) (bool, error) {
	res, err := s.db.Exec(s.rebind(`DELETE FROM assessments WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SubmissionCount returns the number of stored submissions.
func (s *Store) SubmissionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM assessments`).Scan(&count)
	return count, err
}
