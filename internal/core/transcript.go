package core

import (
	"fmt"
	"strings"
	"time"

	"medisim/pkg"
)

// RenderSystemContext builds the role instruction for a case.  Gender and
// symptoms are written verbatim so the model sees exactly what the
// instructor entered.
func RenderSystemContext(c *pkg.CaseProfile, language string) string {
	if language == "" {
		language = "English"
	}

	history := strings.Join(c.Patient.MedicalHistory, ", ")
	if history == "" {
		history = noHistory
	}
	meds := strings.Join(c.Patient.CurrentMedications, ", ")
	if meds == "" {
		meds = noMedications
	}

	var b strings.Builder
	b.WriteString(patientRoleIntro)
	b.WriteString("\n\nPATIENT INFORMATION:\n")
	fmt.Fprintf(&b, "- Age: %d\n", c.Patient.Age)
	fmt.Fprintf(&b, "- Gender: %s\n", c.Patient.Gender)
	fmt.Fprintf(&b, "- Chief Complaint: %s\n", c.Description)
	fmt.Fprintf(&b, "- Symptoms: %s\n", strings.Join(c.Symptoms, ", "))
	b.WriteString("- Vital Signs:\n")
	fmt.Fprintf(&b, "  * Temperature: %s\n", c.Vitals.Temperature)
	fmt.Fprintf(&b, "  * Blood Pressure: %s\n", c.Vitals.BloodPressure)
	fmt.Fprintf(&b, "  * Heart Rate: %s\n", c.Vitals.HeartRate)
	fmt.Fprintf(&b, "  * Respiratory Rate: %s\n", c.Vitals.RespiratoryRate)
	fmt.Fprintf(&b, "- Medical History: %s\n", history)
	fmt.Fprintf(&b, "- Current Medications: %s\n\n", meds)
	fmt.Fprintf(&b, behaviouralRules, language)
	return b.String()
}

// GreetingFallback is the template greeting shown when the provider cannot
// produce one.  It only uses profile fields.
func GreetingFallback(c *pkg.CaseProfile) string {
	return fmt.Sprintf(greetingFallbackFormat, c.Patient.Age, c.Patient.Gender, c.Description)
}

// transcript is the ordered turn history of one session.  turns[0] is
// always the system context.
type transcript struct {
	turns []pkg.Turn
}

func newTranscript(system string, at time.Time) *transcript {
	return &transcript{
		turns: []pkg.Turn{{Kind: pkg.TurnSystem, Text: system, CreatedAt: at}},
	}
}

func (t *transcript) system() string { return t.turns[0].Text }

func (t *transcript) len() int { return len(t.turns) }

func (t *transcript) append(turn pkg.Turn) {
	t.turns = append(t.turns, turn)
}

func (t *transcript) reset() {
	t.turns = t.turns[:1]
}

// history returns a copy of every turn after the system context.
func (t *transcript) history() []pkg.Turn {
	out := make([]pkg.Turn, len(t.turns)-1)
	copy(out, t.turns[1:])
	return out
}

// prompt serialises the conversation for the provider, ending with the cue
// for the next patient line.
func (t *transcript) prompt() string {
	var b strings.Builder
	b.WriteString(t.system())
	b.WriteString("\n\n")
	for _, turn := range t.turns[1:] {
		switch turn.Kind {
		case pkg.TurnDoctor:
			b.WriteString("Doctor: ")
		case pkg.TurnPatient:
			b.WriteString("Patient: ")
		default:
			continue
		}
		b.WriteString(turn.Text)
		b.WriteByte('\n')
	}
	b.WriteString("Patient:")
	return b.String()
}

func greetingPrompt(system string) string {
	return system + "\n\n" + GreetingInstruction
}
