package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"medisim/pkg"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "medisim.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// Running twice must be harmless.
	if err := Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	return NewRepository(conn, dialect)
}

func sampleCase() *pkg.CaseProfile {
	return &pkg.CaseProfile{
		Title:       "Acute chest pain",
		Description: "sudden severe chest pain",
		Category:    "Cardiology",
		Difficulty:  pkg.DifficultyIntermediate,
		Duration:    20,
		Symptoms:    []string{"Chest pain", "Sweating"},
		Vitals:      pkg.Vitals{Temperature: "36.8°C", BloodPressure: "150/95 mmHg", HeartRate: "110 bpm", RespiratoryRate: "22/min"},
		Patient: pkg.PatientInfo{
			Age:                52,
			Gender:             pkg.GenderMale,
			MedicalHistory:     []string{"Hypertension"},
			CurrentMedications: nil,
		},
		Tags:      []string{"emergency"},
		CreatedBy: "instructor1",
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	if got := rebind(DialectSQLite, q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	if got, want := rebind(DialectPostgres, q), "SELECT * FROM t WHERE a = $1 AND b = $2"; got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestCaseRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := sampleCase()
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Fatal("CreateCase should assign id and created_at")
	}

	got, err := repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if got.Title != c.Title || got.Patient.Age != 52 || got.Patient.Gender != pkg.GenderMale {
		t.Fatalf("unexpected case %+v", got)
	}
	if len(got.Symptoms) != 2 || got.Symptoms[1] != "Sweating" {
		t.Fatalf("symptoms = %q", got.Symptoms)
	}
	if got.Vitals != c.Vitals {
		t.Fatalf("vitals = %+v", got.Vitals)
	}
	if got.Patient.CurrentMedications == nil || len(got.Patient.CurrentMedications) != 0 {
		t.Fatalf("medications = %#v", got.Patient.CurrentMedications)
	}
	if !got.CreatedAt.Equal(c.CreatedAt.Truncate(time.Millisecond)) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, c.CreatedAt)
	}

	list, err := repo.ListCases(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCases = %d, %v", len(list), err)
	}

	if err := repo.DeleteCase(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCase failed: %v", err)
	}
	if _, err := repo.GetCase(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteCase(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestCreateCaseValidates(t *testing.T) {
	repo := newTestRepo(t)
	c := sampleCase()
	c.Patient.Gender = "unknown"
	if err := repo.CreateCase(context.Background(), c); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLegacyCommaSeparatedLists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.DB.ExecContext(ctx, `INSERT INTO cases (id, title, symptoms, patient_age, patient_gender, medical_history, created_at)
		VALUES ('legacy', 'Old case', 'Fever, Cough', 30, 'female', '', 0)`)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	got, err := repo.GetCase(ctx, "legacy")
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if len(got.Symptoms) != 2 || got.Symptoms[0] != "Fever" || got.Symptoms[1] != "Cough" {
		t.Fatalf("symptoms = %q", got.Symptoms)
	}
	if len(got.Patient.MedicalHistory) != 0 {
		t.Fatalf("history = %q", got.Patient.MedicalHistory)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.Register(ctx, "ayse", "s3cret", pkg.RoleInstructor)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Role != pkg.RoleInstructor {
		t.Fatalf("role = %s", u.Role)
	}
	if _, err := repo.Register(ctx, "ayse", "other", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	got, err := repo.Authenticate(ctx, "ayse", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("id = %s, want %s", got.ID, u.ID)
	}
	if _, err := repo.Authenticate(ctx, "ayse", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := repo.Authenticate(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}

	var hash string
	if err := repo.DB.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, u.ID).Scan(&hash); err != nil {
		t.Fatalf("read hash: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("password stored in plain text")
	}
}

func TestRegisterConcurrentSameName(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Register(ctx, "alice", "pw", "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrUsernameTaken):
			t.Errorf("register %d: expected ErrUsernameTaken, got %v", i, err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d registrations succeeded, want 1", ok)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	insert := `INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := repo.exec(ctx, insert, "u1", "bob", "x", "student", 0); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := repo.exec(ctx, insert, "u2", "bob", "x", "student", 0)
	if !isUniqueViolation(err) {
		t.Fatalf("duplicate username not recognised: %v", err)
	}
	if isUniqueViolation(nil) || isUniqueViolation(errors.New("boom")) {
		t.Fatal("unrelated errors reported as unique violations")
	}
}

func TestSimulationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &pkg.SimulationRecord{
		ID:     "sim-1",
		CaseID: "case-1",
		UserID: "user-1",
		Status: pkg.StatusAbandoned,
		Transcript: []pkg.Turn{
			{Kind: pkg.TurnDoctor, Text: "Where does it hurt?", CreatedAt: start},
			{Kind: pkg.TurnPatient, Text: "My chest.", Classification: pkg.ClassClarification, CreatedAt: start.Add(time.Second)},
		},
		StartedAt: start,
		EndedAt:   start.Add(10 * time.Minute),
	}
	if err := repo.SaveSimulation(ctx, rec); err != nil {
		t.Fatalf("SaveSimulation failed: %v", err)
	}

	rec.Status = pkg.StatusCompleted
	rec.Diagnosis = "Acute MI"
	rec.Debrief = &pkg.Debrief{KeyPoints: []string{"Asked about onset"}, FreeText: "Good."}
	if err := repo.SaveSimulation(ctx, rec); err != nil {
		t.Fatalf("second SaveSimulation failed: %v", err)
	}

	got, err := repo.GetSimulation(ctx, "sim-1")
	if err != nil {
		t.Fatalf("GetSimulation failed: %v", err)
	}
	if got.Status != pkg.StatusCompleted || got.Diagnosis != "Acute MI" {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(got.Transcript) != 2 || got.Transcript[1].Text != "My chest." {
		t.Fatalf("transcript = %+v", got.Transcript)
	}
	if got.Debrief == nil || got.Debrief.FreeText != "Good." {
		t.Fatalf("debrief = %+v", got.Debrief)
	}
	if !got.EndedAt.Equal(rec.EndedAt) {
		t.Fatalf("ended_at = %v", got.EndedAt)
	}

	older := &pkg.SimulationRecord{ID: "sim-0", CaseID: "case-1", Status: pkg.StatusAbandoned, StartedAt: start, EndedAt: start}
	if err := repo.SaveSimulation(ctx, older); err != nil {
		t.Fatalf("SaveSimulation failed: %v", err)
	}
	list, err := repo.ListSimulations(ctx, 10)
	if err != nil {
		t.Fatalf("ListSimulations failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "sim-1" {
		t.Fatalf("expected newest first, got %d records", len(list))
	}
	if list[1].Transcript == nil || list[1].Debrief != nil {
		t.Fatalf("unexpected empty record %+v", list[1])
	}

	if _, err := repo.GetSimulation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
