package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Complete(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestInvokeSuccessTrimsText(t *testing.T) {
	res := Invoke(context.Background(), stubClient{text: "  it hurts here \n"}, "p")
	ok, isOK := res.(Success)
	if !isOK {
		t.Fatalf("expected Success, got %#v", res)
	}
	if ok.Text != "it hurts here" {
		t.Fatalf("unexpected text %q", ok.Text)
	}
}

func TestInvokeFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		c    stubClient
		want FailureKind
	}{
		{"timeout", stubClient{err: context.DeadlineExceeded}, FailureTimeout},
		{"canceled", stubClient{err: context.Canceled}, FailureCanceled},
		{"empty error", stubClient{err: ErrEmptyReply}, FailureEmpty},
		{"blank text", stubClient{text: "   "}, FailureEmpty},
		{"quota", stubClient{err: errors.New("429 quota exceeded")}, FailureProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Invoke(context.Background(), tc.c, "p")
			f, ok := res.(Failure)
			if !ok {
				t.Fatalf("expected Failure, got %#v", res)
			}
			if f.Kind != tc.want {
				t.Errorf("kind = %s, want %s", f.Kind, tc.want)
			}
			if f.Message == "" {
				t.Error("expected failure message")
			}
		})
	}
}

func TestMockClientQuotesLastQuestion(t *testing.T) {
	m := NewMockClient()
	prompt := "context\n\nDoctor: Where does it hurt?\nPatient: My chest.\nDoctor: Since when?\nPatient:"
	reply, err := m.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.Contains(reply, "Since when?") {
		t.Fatalf("expected reply to quote last question, got %q", reply)
	}
}

func TestMockClientHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockClient().Complete(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
