package core

import (
	"strings"

	"medisim/pkg"
)

// classificationRules are tried in order; the first rule with a keyword
// contained in the question wins.
var classificationRules = []struct {
	class    pkg.Classification
	keywords []string
}{
	{pkg.ClassSymptom, []string{"symptom", "complaint", "problem"}},
	{pkg.ClassHistory, []string{"history", "before", "family"}},
	{pkg.ClassPhysical, []string{"exam", "examine", "listen"}},
	{pkg.ClassEmotional, []string{"feel", "worry", "concern"}},
}

// Classify tags a patient reply by the doctor question that prompted it.
// Matching is a case-insensitive substring test.
func Classify(question string) pkg.Classification {
	q := strings.ToLower(question)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				return rule.class
			}
		}
	}
	return pkg.ClassClarification
}
