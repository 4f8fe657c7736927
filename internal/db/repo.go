package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"medisim/pkg"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = pkg.ErrNotFound

	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Repository wraps database operations for users, cases and finished
// simulations.  Queries are written with ? placeholders and rebound for
// Postgres.
type Repository struct {
	DB      *sql.DB
	Dialect Dialect
	now     func() time.Time
}

// NewRepository constructs a Repository from an open sql.DB.  The caller
// owns the connection lifecycle.
func NewRepository(db *sql.DB, d Dialect) *Repository {
	return &Repository{DB: db, Dialect: d, now: time.Now}
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.DB.ExecContext(ctx, rebind(r.Dialect, query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.DB.QueryContext(ctx, rebind(r.Dialect, query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.DB.QueryRowContext(ctx, rebind(r.Dialect, query), args...)
}

// Register creates a user with a bcrypt-hashed password.
func (r *Repository) Register(ctx context.Context, username, password string, role pkg.Role) (*pkg.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	if role == "" {
		role = pkg.RoleStudent
	}
	if role != pkg.RoleStudent && role != pkg.RoleInstructor {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	var exists int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &pkg.User{ID: uuid.NewString(), Username: username, Role: role, CreatedAt: r.now().UTC()}
	_, err = r.exec(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, string(hash), string(u.Role), u.CreatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent registration of the same name.
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate checks a username/password pair.  Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (r *Repository) Authenticate(ctx context.Context, username, password string) (*pkg.User, error) {
	var (
		u         pkg.User
		hash      string
		role      string
		createdAt int64
	)
	err := r.queryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`,
		strings.TrimSpace(username),
	).Scan(&u.ID, &u.Username, &hash, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	u.Role = pkg.Role(role)
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

const caseColumns = `id, title, description, category, difficulty, duration, symptoms,
	temperature, blood_pressure, heart_rate, respiratory_rate,
	patient_age, patient_gender, medical_history, current_medications,
	tags, created_by, created_at`

// CreateCase validates and stores a case.  ID and CreatedAt are assigned
// when empty.
func (r *Repository) CreateCase(ctx context.Context, c *pkg.CaseProfile) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid case: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}

	_, err := r.exec(ctx,
		`INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, c.Category, string(c.Difficulty), c.Duration, encodeList(c.Symptoms),
		c.Vitals.Temperature, c.Vitals.BloodPressure, c.Vitals.HeartRate, c.Vitals.RespiratoryRate,
		c.Patient.Age, string(c.Patient.Gender), encodeList(c.Patient.MedicalHistory), encodeList(c.Patient.CurrentMedications),
		encodeList(c.Tags), c.CreatedBy, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// GetCase loads one case.  It satisfies core.CaseSource.
func (r *Repository) GetCase(ctx context.Context, id string) (*pkg.CaseProfile, error) {
	row := r.queryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", id, err)
	}
	return c, nil
}

// ListCases returns every case, newest first.
func (r *Repository) ListCases(ctx context.Context) ([]*pkg.CaseProfile, error) {
	rows, err := r.query(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	cases := []*pkg.CaseProfile{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// DeleteCase removes a case.  Stored simulations of it are kept.
func (r *Repository) DeleteCase(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete case %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (*pkg.CaseProfile, error) {
	var (
		c                             pkg.CaseProfile
		difficulty, gender            string
		symptoms, history, meds, tags string
		createdAt                     int64
	)
	err := s.Scan(
		&c.ID, &c.Title, &c.Description, &c.Category, &difficulty, &c.Duration, &symptoms,
		&c.Vitals.Temperature, &c.Vitals.BloodPressure, &c.Vitals.HeartRate, &c.Vitals.RespiratoryRate,
		&c.Patient.Age, &gender, &history, &meds,
		&tags, &c.CreatedBy, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	c.Difficulty = pkg.Difficulty(difficulty)
	c.Patient.Gender = pkg.Gender(gender)
	c.Symptoms = decodeList(symptoms)
	c.Patient.MedicalHistory = decodeList(history)
	c.Patient.CurrentMedications = decodeList(meds)
	c.Tags = decodeList(tags)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &c, nil
}

// SaveSimulation inserts or replaces a finished simulation.  It satisfies
// core.RecordStore.
func (r *Repository) SaveSimulation(ctx context.Context, rec *pkg.SimulationRecord) error {
	turns := rec.Transcript
	if turns == nil {
		turns = []pkg.Turn{}
	}
	transcript, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	var debrief any
	if rec.Debrief != nil {
		b, err := json.Marshal(rec.Debrief)
		if err != nil {
			return fmt.Errorf("marshal debrief: %w", err)
		}
		debrief = string(b)
	}

	_, err = r.exec(ctx,
		`INSERT INTO simulations (id, case_id, user_id, status, diagnosis, reasoning, transcript, debrief, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			diagnosis = excluded.diagnosis,
			reasoning = excluded.reasoning,
			transcript = excluded.transcript,
			debrief = excluded.debrief,
			ended_at = excluded.ended_at`,
		rec.ID, rec.CaseID, rec.UserID, string(rec.Status), rec.Diagnosis, rec.Reasoning,
		string(transcript), debrief, rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert simulation: %w", err)
	}
	return nil
}

const simulationColumns = `id, case_id, user_id, status, diagnosis, reasoning, transcript, debrief, started_at, ended_at`

// GetSimulation loads one stored simulation.
func (r *Repository) GetSimulation(ctx context.Context, id string) (*pkg.SimulationRecord, error) {
	row := r.queryRow(ctx, `SELECT `+simulationColumns+` FROM simulations WHERE id = ?`, id)
	rec, err := scanSimulation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get simulation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", id, err)
	}
	return rec, nil
}

// ListSimulations returns up to limit stored simulations, most recently
// ended first.
func (r *Repository) ListSimulations(ctx context.Context, limit int) ([]*pkg.SimulationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx, `SELECT `+simulationColumns+` FROM simulations ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer rows.Close()

	recs := []*pkg.SimulationRecord{}
	for rows.Next() {
		rec, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanSimulation(s scanner) (*pkg.SimulationRecord, error) {
	var (
		rec                pkg.SimulationRecord
		status, transcript string
		debrief            sql.NullString
		startedAt, endedAt int64
	)
	err := s.Scan(&rec.ID, &rec.CaseID, &rec.UserID, &status, &rec.Diagnosis, &rec.Reasoning,
		&transcript, &debrief, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = pkg.SimulationStatus(status)
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if debrief.Valid && debrief.String != "" {
		rec.Debrief = &pkg.Debrief{}
		if err := json.Unmarshal([]byte(debrief.String), rec.Debrief); err != nil {
			return nil, fmt.Errorf("decode debrief: %w", err)
		}
	}
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	rec.EndedAt = time.UnixMilli(endedAt).UTC()
	return &rec, nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList reads a JSON array column.  Older rows hold a plain
// comma-separated string, which is split instead.
func decodeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		if items == nil {
			items = []string{}
		}
		return items
	}
	items = []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// pgUniqueViolation is the SQLSTATE for a unique constraint failure.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
