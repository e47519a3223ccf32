package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/extract"
	"github.com/JakeFAU/course-enricher/internal/metrics"
)

// Config tunes one Enricher.
type Config struct {
	MaxTextChars int
	// SearchEnabled grants the search tool for pages with text. The
	// empty-text sentinel always gets it.
	SearchEnabled bool
	// Predicates overrides URLPredicates when non-empty.
	Predicates []URLPredicate
}

// Outcome is the result of enriching one record. Exactly one of Updates and
// Err is set.
type Outcome struct {
	ID           string
	URL          string
	Updates      catalog.Record
	Err          error
	SnapshotURI  string
	FetchFailed  bool
	UsedHeadless bool
	Duration     time.Duration
}

// OK reports whether the record was enriched.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Fields returns the mapped updates, or the error/details pair on failure.
func (o Outcome) Fields() catalog.Record {
	if o.Err != nil {
		msg, details := catalog.Describe(o.Err)
		return catalog.NewRecord(catalog.FieldError, msg, catalog.FieldDetails, details)
	}
	return o.Updates.Clone()
}

// Enricher runs URL discovery, fetch, extraction and mapping for one record.
type Enricher struct {
	reader    catalog.PageReader
	extractor catalog.Extractor
	archiver  *Archiver
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New builds an Enricher. archiver may be nil.
func New(
	reader catalog.PageReader,
	extractor catalog.Extractor,
	archiver *Archiver,
	cfg Config,
	logger *zap.Logger,
) (*Enricher, error) {
	if reader == nil || extractor == nil {
		return nil, errors.New("enricher needs a page reader and an extractor")
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = extract.DefaultMaxTextChars
	}
	if len(cfg.Predicates) == 0 {
		cfg.Predicates = URLPredicates
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		reader:    reader,
		extractor: extractor,
		archiver:  archiver,
		cfg:       cfg,
		logger:    logger.Named("enrich"),
		tracer:    otel.Tracer("github.com/JakeFAU/course-enricher/internal/enrich"),
	}, nil
}

// Discover returns the scrape URL of rec using the configured predicates.
func (e *Enricher) Discover(rec catalog.Record) (string, error) {
	_, url, err := DiscoverURL(rec, e.cfg.Predicates)
	return url, err
}

// Enrich processes rec. Per-record failures are returned in the Outcome.
func (e *Enricher) Enrich(ctx context.Context, rec catalog.Record) Outcome {
	start := time.Now()
	out := Outcome{ID: rec.ID()}
	ctx, span := e.tracer.Start(ctx, "enrich.record",
		trace.WithAttributes(attribute.String("record.id", out.ID)))
	defer span.End()

	url, err := e.Discover(rec)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		span.SetStatus(codes.Error, err.Error())
		return out
	}
	out.URL = url
	span.SetAttributes(attribute.String("record.url", url))
	logger := e.logger.With(zap.String("record_id", out.ID), zap.String("url", url))

	text := extract.EmptyText
	page, err := e.reader.Read(ctx, url)
	if err != nil {
		fetchErr := &catalog.FetchError{URL: url, Err: err}
		logger.Warn("fetch failed, forwarding to search fallback", zap.Error(fetchErr))
		metrics.ObserveFetchFallback(url)
		span.AddEvent("fetch_fallback")
		out.FetchFailed = true
	} else {
		out.UsedHeadless = page.UsedHeadless
		if strings.TrimSpace(page.Text) != "" {
			text = extract.Truncate(page.Text, e.cfg.MaxTextChars)
		}
		out.SnapshotURI = e.archive(ctx, logger, out.ID, page.Raw)
	}

	raw, err := e.extractor.Extract(ctx, catalog.ExtractRequest{
		Text:          text,
		URL:           url,
		Schema:        extract.Schema,
		SearchEnabled: e.cfg.SearchEnabled || text == extract.EmptyText,
	})
	if err == nil {
		var program extract.Program
		program, err = extract.Decode(raw)
		if err == nil {
			out.Updates = MapProgram(program, url)
		}
	}
	if err != nil {
		out.Err = &catalog.ExtractionError{Err: err}
		logger.Error("extraction failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
	}
	out.Duration = time.Since(start)
	return out
}

func (e *Enricher) archive(ctx context.Context, logger *zap.Logger, id string, body []byte) string {
	if e.archiver == nil || len(body) == 0 {
		return ""
	}
	uri, err := e.archiver.Archive(ctx, id, body)
	if err != nil {
		logger.Warn("snapshot archive failed", zap.Error(err))
		return ""
	}
	return uri
}
