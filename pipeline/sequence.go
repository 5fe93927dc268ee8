package pipeline

import (
	"context"
)

// Sink is the end of a chain of stages.
type Sink func(context.Context, *Scope) error

// Stage is a segment of a pipeline. It performs some work and may call next
// to continue with the remainder of the pipeline.
type Stage func(ctx context.Context, sc *Scope, next Sink) error

// Sequence is an ordered sequence of pipeline stages.
type Sequence []Stage

// Accept passes the scope to the next stage in the sequence.
// It conforms to the Sink signature.
func (s Sequence) Accept(ctx context.Context, sc *Scope) error {
	if len(s) == 0 {
		panic("traversed the end of the sequence")
	}

	head := s[0]
	tail := s[1:]

	return head(ctx, sc, tail.Accept)
}

// Terminate returns a stage that ends a sequence.
func Terminate() Stage {
	return func(context.Context, *Scope, Sink) error {
		return nil
	}
}
