package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is an offline stand-in used in local mode.  It answers with a
// canned patient line that quotes the most recent doctor question.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	question := lastDoctorLine(prompt)
	if question == "" {
		return "Hello doctor. I haven't been feeling well and I'm a bit worried, that's why I came today.", nil
	}
	return fmt.Sprintf("You asked %q. I'm not really sure how to describe it, it just doesn't feel right.", question), nil
}

func lastDoctorLine(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if q, ok := strings.CutPrefix(lines[i], "Doctor: "); ok {
			return strings.TrimSpace(q)
		}
	}
	return ""
}
