package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/metrics"
)

// Waiter blocks until a call identified by key may proceed.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Paced wraps an Extractor with a Waiter and records call latency.
type Paced struct {
	next   catalog.Extractor
	waiter Waiter
	key    string
}

// NewPaced builds a Paced extractor. A nil waiter disables pacing.
func NewPaced(next catalog.Extractor, waiter Waiter, key string) *Paced {
	return &Paced{next: next, waiter: waiter, key: key}
}

// Extract waits for the pacing token, then delegates.
func (p *Paced) Extract(ctx context.Context, request catalog.ExtractRequest) (string, error) {
	if p.waiter != nil {
		if err := p.waiter.Wait(ctx, p.key); err != nil {
			return "", fmt.Errorf("extraction pacing: %w", err)
		}
	}
	start := time.Now()
	out, err := p.next.Extract(ctx, request)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveExtraction(outcome, time.Since(start))
	if err != nil {
		return "", err
	}
	return out, nil
}
