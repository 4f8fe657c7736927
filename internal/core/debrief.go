package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medisim/internal/llm"
	"medisim/pkg"
)

const maxKeyPoints = 7

// Debriefer turns a finished simulation into a short review for the
// instructor: a handful of key points and a free-text summary.
type Debriefer struct {
	LLM     llm.Client
	Timeout time.Duration
	now     func() time.Time
}

// NewDebriefer constructs a debriefer whose provider calls are bounded by
// timeout.  A non-positive timeout means DefaultProviderTimeout.
func NewDebriefer(client llm.Client, timeout time.Duration) *Debriefer {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Debriefer{LLM: client, Timeout: timeout, now: time.Now}
}

// Debrief asks the provider to review the encounter.  On failure a fallback
// debrief is returned together with the error so the record can still be
// stored.
func (d *Debriefer) Debrief(ctx context.Context, profile *pkg.CaseProfile, rec *pkg.SimulationRecord) (*pkg.Debrief, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	res := llm.Invoke(callCtx, d.LLM, debriefPrompt(profile, rec))
	switch r := res.(type) {
	case llm.Success:
		out := parseDebrief(r.Text)
		out.UpdatedAt = d.now()
		return out, nil
	case llm.Failure:
		return &pkg.Debrief{
			KeyPoints: []string{"Encounter recorded"},
			FreeText:  "Debrief unavailable.",
			UpdatedAt: d.now(),
		}, fmt.Errorf("debrief: %s: %w", r.Kind, ErrProviderUnavailable)
	}
	return nil, fmt.Errorf("debrief: unexpected result %T", res)
}

func debriefPrompt(profile *pkg.CaseProfile, rec *pkg.SimulationRecord) string {
	var b strings.Builder
	b.WriteString(DebriefInstruction)
	b.WriteString("\n\nCASE:\n")
	if profile != nil {
		fmt.Fprintf(&b, "%s - %s\n", profile.Title, profile.Description)
		fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(profile.Symptoms, ", "))
	}
	b.WriteString("\nINTERVIEW:\n")
	for _, t := range rec.Transcript {
		switch t.Kind {
		case pkg.TurnDoctor:
			fmt.Fprintf(&b, "Doctor: %s\n", t.Text)
		case pkg.TurnPatient:
			fmt.Fprintf(&b, "Patient: %s\n", t.Text)
		}
	}
	fmt.Fprintf(&b, "\nSTUDENT DIAGNOSIS: %s\n", rec.Diagnosis)
	fmt.Fprintf(&b, "STUDENT REASONING: %s\n", rec.Reasoning)
	return b.String()
}

// parseDebrief reads "- " bullet lines as key points and everything after
// a "SUMMARY:" line as free text.  Unstructured replies become free text.
func parseDebrief(text string) *pkg.Debrief {
	out := &pkg.Debrief{KeyPoints: []string{}}
	var summary []string
	inSummary := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "SUMMARY:"); ok {
			inSummary = true
			if rest = strings.TrimSpace(rest); rest != "" {
				summary = append(summary, rest)
			}
			continue
		}
		if inSummary {
			if trimmed != "" {
				summary = append(summary, trimmed)
			}
			continue
		}
		if point, ok := strings.CutPrefix(trimmed, "- "); ok && len(out.KeyPoints) < maxKeyPoints {
			out.KeyPoints = append(out.KeyPoints, strings.TrimSpace(point))
		}
	}
	out.FreeText = strings.Join(summary, " ")
	if len(out.KeyPoints) == 0 && out.FreeText == "" {
		out.FreeText = strings.TrimSpace(text)
	}
	return out
}
