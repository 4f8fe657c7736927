package pkg

import (
	"errors"
	"strings"
	"time"
)

// Gender of the simulated patient.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Difficulty is the instructor-assigned level of a case.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Vitals are kept as display strings ("38.2°C", "120/80 mmHg") because
// instructors type them free-form.
type Vitals struct {
	Temperature     string `json:"temperature"`
	BloodPressure   string `json:"blood_pressure"`
	HeartRate       string `json:"heart_rate"`
	RespiratoryRate string `json:"respiratory_rate"`
}

// PatientInfo holds the demographics and background of the simulated patient.
type PatientInfo struct {
	Age                int      `json:"age"`
	Gender             Gender   `json:"gender"`
	MedicalHistory     []string `json:"medical_history"`
	CurrentMedications []string `json:"current_medications"`
}

// CaseProfile describes a clinical scenario authored by an instructor.  A
// conversation session takes its own copy at start and never reloads it.
type CaseProfile struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Difficulty  Difficulty  `json:"difficulty"`
	Duration    int         `json:"duration"` // minutes
	Symptoms    []string    `json:"symptoms"`
	Vitals      Vitals      `json:"vitals"`
	Patient     PatientInfo `json:"patient"`
	Tags        []string    `json:"tags"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Clone returns a deep copy of the profile.
func (c *CaseProfile) Clone() *CaseProfile {
	if c == nil {
		return nil
	}
	out := *c
	out.Symptoms = cloneStrings(c.Symptoms)
	out.Tags = cloneStrings(c.Tags)
	out.Patient.MedicalHistory = cloneStrings(c.Patient.MedicalHistory)
	out.Patient.CurrentMedications = cloneStrings(c.Patient.CurrentMedications)
	return &out
}

// Validate checks the fields a case needs before it can be stored.
func (c *CaseProfile) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("title is required")
	}
	if c.Patient.Age < 0 {
		return errors.New("patient age must not be negative")
	}
	switch c.Patient.Gender {
	case GenderMale, GenderFemale:
	default:
		return errors.New("patient gender must be male or female")
	}
	switch c.Difficulty {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return errors.New("difficulty must be beginner, intermediate or advanced")
	}
	if c.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// TurnKind tags who produced a transcript turn.
type TurnKind string

const (
	TurnSystem  TurnKind = "system"
	TurnDoctor  TurnKind = "doctor"
	TurnPatient TurnKind = "patient"
)

// Classification is a heuristic hint about what a patient reply is about.
// It is derived from the doctor's question, not from the reply.
type Classification string

const (
	ClassSymptom       Classification = "symptom"
	ClassHistory       Classification = "history"
	ClassPhysical      Classification = "physical"
	ClassEmotional     Classification = "emotional"
	ClassClarification Classification = "clarification"
)

// Turn is one entry of a conversation transcript.
type Turn struct {
	Kind           TurnKind       `json:"kind"`
	Text           string         `json:"text"`
	Classification Classification `json:"classification,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PatientResponse is what a doctor gets back for a question.
type PatientResponse struct {
	Text           string         `json:"text"`
	Classification Classification `json:"classification"`
}

// Role of an application user.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// User is an account.  The password hash never leaves the repository.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SimulationStatus is the outcome of a simulation.
type SimulationStatus string

const (
	StatusActive    SimulationStatus = "active"
	StatusCompleted SimulationStatus = "completed"
	StatusAbandoned SimulationStatus = "abandoned"
)

// Debrief is the instructor-facing summary of a finished encounter.
type Debrief struct {
	KeyPoints []string  `json:"key_points"`
	FreeText  string    `json:"free_text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SimulationRecord is a finished (or abandoned) simulation as stored for
// instructor review.  Transcript excludes the system context turn.
type SimulationRecord struct {
	ID         string           `json:"id"`
	CaseID     string           `json:"case_id"`
	UserID     string           `json:"user_id,omitempty"`
	Status     SimulationStatus `json:"status"`
	Diagnosis  string           `json:"diagnosis,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
	Transcript []Turn           `json:"transcript"`
	Debrief    *Debrief         `json:"debrief,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
}
