// Package storage is the durable side of the call pipeline: tenant voice
// profiles and finalized call records with their ordered transcripts.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
)

// ErrTenantNotFound means no voice profile exists for the tenant; calls
// for that tenant are rejected at setup time.
var ErrTenantNotFound = errors.New("tenant voice profile not found")

// TenantProfile is the per-tenant voice configuration bridges need before
// any audio flows.
type TenantProfile struct {
	TenantID       string `json:"tenant_id" yaml:"tenant_id"`
	Name           string `json:"name" yaml:"name"`
	SystemPrompt   string `json:"system_prompt" yaml:"system_prompt"`
	Greeting       string `json:"greeting" yaml:"greeting"`
	Voice          string `json:"voice" yaml:"voice"`
	Language       string `json:"language" yaml:"language"`
	ResponderModel string `json:"responder_model" yaml:"responder_model"`
}

// CallRecord is the finalized form of one call handed over for
// persistence.
type CallRecord struct {
	SessionID     string          `json:"session_id"`
	CarrierCallID string          `json:"carrier_call_id"`
	TenantID      string          `json:"tenant_id"`
	ContactID     string          `json:"contact_id"`
	Method        string          `json:"method"`
	Direction     string          `json:"direction"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       time.Time       `json:"ended_at"`
	Summary       string          `json:"summary"`
	Escalated     bool            `json:"escalated"`
	RecordingPath string          `json:"recording_path,omitempty"`
	Transcript    []session.Entry `json:"transcript"`
}

// Ticket is a support ticket opened by the AI agent during a live call.
type Ticket struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	ContactID string    `json:"contact_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "custarea-voice.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			greeting TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en-US',
			responder_model TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create tenants table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			session_id TEXT PRIMARY KEY,
			carrier_call_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			contact_id TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			direction TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			escalated INTEGER NOT NULL DEFAULT 0,
			recording_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS call_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			UNIQUE(session_id, sequence),
			FOREIGN KEY(session_id) REFERENCES calls(session_id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create call_messages table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_requests (
			call_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(call_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create summary_requests table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			contact_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create tickets table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at)"); err != nil {
		return fmt.Errorf("create calls index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// UpsertTenant creates or replaces a tenant voice profile.
func (s *SQLiteStore) UpsertTenant(p TenantProfile) error {
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO tenants(tenant_id, name, system_prompt, greeting, voice, language, responder_model)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET
			name = excluded.name,
			system_prompt = excluded.system_prompt,
			greeting = excluded.greeting,
			voice = excluded.voice,
			language = excluded.language,
			responder_model = excluded.responder_model`,
		p.TenantID, p.Name, p.SystemPrompt, p.Greeting, p.Voice, p.Language, p.ResponderModel,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", p.TenantID, err)
	}
	return nil
}

// TenantProfile fetches the voice profile for a tenant.
func (s *SQLiteStore) TenantProfile(tenantID string) (TenantProfile, error) {
	row := s.db.QueryRow(
		`SELECT tenant_id, name, system_prompt, greeting, voice, language, responder_model
		 FROM tenants WHERE tenant_id = ?`,
		tenantID,
	)

	var p TenantProfile
	err := row.Scan(&p.TenantID, &p.Name, &p.SystemPrompt, &p.Greeting, &p.Voice, &p.Language, &p.ResponderModel)
	if errors.Is(err, sql.ErrNoRows) {
		return TenantProfile{}, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	if err != nil {
		return TenantProfile{}, fmt.Errorf("query tenant %s: %w", tenantID, err)
	}
	return p, nil
}

// SaveCall persists a finalized call record and its transcript. Saving is
// idempotent with respect to the carrier call id: a record that already
// exists is left untouched and no error is returned.
func (s *SQLiteStore) SaveCall(rec CallRecord) error {
	if rec.CarrierCallID == "" {
		return errors.New("carrier call id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save call: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO calls(session_id, carrier_call_id, tenant_id, contact_id, method, direction, started_at, ended_at, summary, escalated, recording_path)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.CarrierCallID,
		rec.TenantID,
		rec.ContactID,
		rec.Method,
		rec.Direction,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.Summary,
		boolToInt(rec.Escalated),
		rec.RecordingPath,
	)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.SessionID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert call rows affected: %w", err)
	}
	if rows == 0 {
		// Already persisted by the other teardown path.
		return nil
	}

	for _, e := range rec.Transcript {
		if _, err := tx.Exec(
			`INSERT INTO call_messages(session_id, sequence, speaker, text, timestamp) VALUES(?, ?, ?, ?, ?)`,
			rec.SessionID,
			e.Sequence,
			string(e.Speaker),
			e.Text,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert message %d for call %s: %w", e.Sequence, rec.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save call: %w", err)
	}
	return nil
}

// CreateTicket opens a support ticket and returns its id.
func (s *SQLiteStore) CreateTicket(tk Ticket) (int64, error) {
	if strings.TrimSpace(tk.Subject) == "" {
		return 0, errors.New("ticket subject is required")
	}

	createdAt := tk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO tickets(tenant_id, session_id, contact_id, subject, body, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		tk.TenantID, tk.SessionID, tk.ContactID, tk.Subject, tk.Body,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ticket insert id: %w", err)
	}
	return id, nil
}

// GetCall fetches one persisted call with its transcript.
func (s *SQLiteStore) GetCall(sessionID string) (CallRecord, error) {
	row := s.db.QueryRow(
		`SELECT session_id, carrier_call_id, tenant_id, contact_id, method, direction, started_at, ended_at, summary, escalated, recording_path
		 FROM calls WHERE session_id = ?`,
		sessionID,
	)

	rec, err := scanCall(row)
	if err != nil {
		return CallRecord{}, fmt.Errorf("query call %s: %w", sessionID, err)
	}

	transcript, err := s.getTranscript(sessionID)
	if err != nil {
		return CallRecord{}, err
	}
	rec.Transcript = transcript

	return rec, nil
}

// GetCallsByDate lists calls that started on the given UTC date
// (YYYY-MM-DD), newest first, without transcripts.
func (s *SQLiteStore) GetCallsByDate(date string) ([]CallRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, carrier_call_id, tenant_id, contact_id, method, direction, started_at, ended_at, summary, escalated, recording_path
		 FROM calls
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]CallRecord, 0, 16)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) getTranscript(sessionID string) ([]session.Entry, error) {
	rows, err := s.db.Query(
		`SELECT sequence, speaker, text, timestamp FROM call_messages WHERE session_id = ? ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for call %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]session.Entry, 0, 32)
	for rows.Next() {
		var e session.Entry
		var speaker, ts string
		if err := rows.Scan(&e.Sequence, &speaker, &e.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message for call %s: %w", sessionID, err)
		}
		e.Speaker = session.Speaker(speaker)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp for call %s: %w", sessionID, err)
		}
		e.Timestamp = parsed

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows for call %s: %w", sessionID, err)
	}

	return entries, nil
}

// ClaimSummaryRequest marks a summary attempt for the given transcript
// hash; returns false if already claimed.
func (s *SQLiteStore) ClaimSummaryRequest(callID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(call_id, prompt_hash) VALUES(?, ?)`,
		callID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for call %s: %w", callID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	var startedAt, endedAt string
	var escalated int

	if err := row.Scan(
		&rec.SessionID, &rec.CarrierCallID, &rec.TenantID, &rec.ContactID,
		&rec.Method, &rec.Direction, &startedAt, &endedAt,
		&rec.Summary, &escalated, &rec.RecordingPath,
	); err != nil {
		return CallRecord{}, err
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return CallRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = parsedStart

	parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt)
	if err != nil {
		return CallRecord{}, fmt.Errorf("parse ended_at: %w", err)
	}
	rec.EndedAt = parsedEnd

	rec.Escalated = escalated != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
