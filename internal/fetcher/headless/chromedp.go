// Package headless renders JavaScript-driven program pages with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is the pause after DOM ready that lets client-side rendering finish.
	Settle time.Duration
}

// Fetcher implements catalog.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	slots       slots
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher sharing one browser allocator.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 750 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg,
		slots:       newSlots(cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the URL and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if err := f.slots.acquire(ctx); err != nil {
		return catalog.FetchResponse{}, err
	}
	defer f.slots.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	// Tie the tab to the caller's deadline as well as the navigation budget.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	doc := &documentMeta{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	html, finalURL, err := f.render(tabCtx, request)
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	status, headers, url := doc.resolve(request.URL, finalURL)
	return catalog.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request catalog.FetchRequest) (string, string, error) {
	var html, finalURL string
	err := chromedp.Run(ctx,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// slots bounds concurrent browser tabs. A nil channel means unbounded.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

// documentMeta records the main document response seen by the browser.
type documentMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *documentMeta) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones belong to iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *documentMeta) resolve(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, url := m.status, m.url
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	headers := m.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
