// Package fetcher turns a program URL into readable page text. It probes with
// a plain HTTP client and promotes to a headless browser when the probe looks
// like a client-rendered shell.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/fetcher/pagetext"
)

// Reader implements catalog.PageReader.
type Reader struct {
	probe    catalog.Fetcher
	headless catalog.Fetcher
	detector catalog.HeadlessDetector
	logger   *zap.Logger
}

// NewReader wires the probe fetcher with optional headless promotion. A nil
// headless fetcher or detector disables promotion.
func NewReader(
	probe catalog.Fetcher,
	headless catalog.Fetcher,
	detector catalog.HeadlessDetector,
	logger *zap.Logger,
) (*Reader, error) {
	if probe == nil {
		return nil, errors.New("probe fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger.Named("fetcher"),
	}, nil
}

// Read fetches url once and returns its visible text. It never retries.
func (r *Reader) Read(ctx context.Context, url string) (catalog.Page, error) {
	resp, err := r.probe.Fetch(ctx, catalog.FetchRequest{URL: url})
	if err != nil {
		return catalog.Page{}, fmt.Errorf("probe fetch: %w", err)
	}
	if promoted, ok := r.maybePromote(ctx, url, resp); ok {
		resp = promoted
	}

	text, err := pagetext.Extract(resp.Body)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("extract page text: %w", err)
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = url
	}
	return catalog.Page{
		URL:          url,
		FinalURL:     finalURL,
		StatusCode:   resp.StatusCode,
		Text:         text,
		Raw:          resp.Body,
		UsedHeadless: resp.UsedHeadless,
		Duration:     resp.Duration,
	}, nil
}

func (r *Reader) maybePromote(
	ctx context.Context,
	url string,
	probe catalog.FetchResponse,
) (catalog.FetchResponse, bool) {
	if r.headless == nil || r.detector == nil || !r.detector.ShouldPromote(probe) {
		return catalog.FetchResponse{}, false
	}
	resp, err := r.headless.Fetch(ctx, catalog.FetchRequest{URL: url, UseHeadless: true})
	if err != nil {
		r.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return catalog.FetchResponse{}, false
	}
	resp.UsedHeadless = true
	r.logger.Info("headless promotion applied", zap.String("url", url))
	return resp, true
}
