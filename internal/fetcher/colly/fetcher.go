// Package collyfetcher implements the plain HTTP page probe using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// StatusError reports an HTTP error status returned by the origin.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Fetcher implements catalog.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newRobotsTransport(newHTTPTransport()),
	}
}

// Fetch executes a single HTTP GET. Status codes of 400 and above are errors.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	page := &capture{start: time.Now()}
	collector := f.collector()
	page.register(collector, request.Headers)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return catalog.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		// OnError has already classified response failures; Visit repeats them.
		if page.err != nil {
			return catalog.FetchResponse{}, page.err
		}
		if err != nil {
			return catalog.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
	}
	if page.resp.URL == "" {
		return catalog.FetchResponse{}, errors.New("colly returned no response")
	}
	return page.resp, nil
}

func (f *Fetcher) collector() *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	return c
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture collects the outcome of one visit.
type capture struct {
	start time.Time
	resp  catalog.FetchResponse
	err   error
}

func (p *capture) register(hooks collectorHooks, headers http.Header) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		p.resp = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(p.start),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			p.err = &StatusError{StatusCode: r.StatusCode}
			return
		}
		p.err = fmt.Errorf("colly response failed: %w", err)
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
