package llm

import (
	"context"
	"errors"
	"strings"
)

// Client is a text completion endpoint: one prompt in, one reply out.
// Implementations must honour ctx cancellation.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyReply is returned when the provider answered without any text.
var ErrEmptyReply = errors.New("llm: empty reply")

// FailureKind classifies why a completion did not produce text.
type FailureKind string

const (
	FailureTimeout  FailureKind = "timeout"
	FailureCanceled FailureKind = "canceled"
	FailureEmpty    FailureKind = "empty"
	FailureProvider FailureKind = "provider"
)

// Result is the outcome of a completion call.  It is either Success or
// Failure; callers switch on the concrete type.
type Result interface {
	isResult()
}

// Success carries the provider's reply.
type Success struct {
	Text string
}

// Failure describes a call that produced no usable text.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Invoke calls the client and folds every outcome into a Result.  A reply
// made only of whitespace counts as a failure.
func Invoke(ctx context.Context, c Client, prompt string) Result {
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		kind := FailureProvider
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = FailureTimeout
		case errors.Is(err, context.Canceled):
			kind = FailureCanceled
		case errors.Is(err, ErrEmptyReply):
			kind = FailureEmpty
		}
		return Failure{Kind: kind, Message: err.Error(), Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Failure{Kind: FailureEmpty, Message: ErrEmptyReply.Error(), Err: ErrEmptyReply}
	}
	return Success{Text: text}
}
