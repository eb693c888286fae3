package backend

import "context"

// Request is one prompt sent to a generation backend.
type Request struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Generator turns a prompt into raw model text. Implementations make a single
// attempt per call and never retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
