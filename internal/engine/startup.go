package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

const warmUpTimeout = 30 * time.Second

// EnsureReady checks that the Engine is reachable. Backends that manage local
// models get their configured model pulled when missing, with progress
// written to w, and are then warmed up so the first classification does not
// pay the cold-load penalty.
func EnsureReady(ctx context.Context, e Engine, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference backend %s is not reachable", e.Name())
	}

	mm, ok := e.(ModelManager)
	if !ok {
		fmt.Fprintf(w, "engine %s: ready\n", e.Name())
		return nil
	}

	model := mm.Model()
	if !mm.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := mm.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := e.Complete(warmCtx, Request{Prompt: "ping", MaxTokens: 1}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", model)
	}
	return nil
}
