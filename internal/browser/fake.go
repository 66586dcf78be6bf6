package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FakeBrowser is a scripted Browser for tests. Pages are registered by URL;
// navigating to an unregistered URL fails like a dead host would.
type FakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]*FakePageData
	navErrs  map[string]error
	open     int
	maxOpen  int
	closed   bool
	NavCount map[string]int
}

// FakePageData scripts the behavior of one URL.
type FakePageData struct {
	Title string
	HTML  string
	// Eval answers Evaluate calls; the returned value is marshaled to JSON
	// and unmarshaled into the caller's out parameter.
	Eval func(script string) (any, error)
}

// NewFakeBrowser constructs an empty fake.
func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{
		pages:    make(map[string]*FakePageData),
		navErrs:  make(map[string]error),
		NavCount: make(map[string]int),
	}
}

// AddPage registers a scripted page under url.
func (b *FakeBrowser) AddPage(url string, data *FakePageData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = data
}

// FailNavigation makes navigations to url return err.
func (b *FakeBrowser) FailNavigation(url string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navErrs[url] = err
}

// MaxOpenPages reports the high-water mark of concurrently open pages.
func (b *FakeBrowser) MaxOpenPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpen
}

// NewPage opens a fake tab.
func (b *FakeBrowser) NewPage(_ context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser closed")
	}
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	return &fakePage{browser: b}, nil
}

// Close shuts the fake down.
func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakePage struct {
	browser   *FakeBrowser
	mu        sync.Mutex
	current   *FakePageData
	userAgent string
	headers   map[string]string
	intercept InterceptPolicy
	closed    bool
}

func (p *fakePage) SetUserAgent(_ context.Context, userAgent string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userAgent = userAgent
	return nil
}

func (p *fakePage) SetExtraHeaders(_ context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

func (p *fakePage) SetRequestInterception(_ context.Context, allow InterceptPolicy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intercept = allow
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, _ WaitCondition, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.browser.mu.Lock()
	p.browser.NavCount[url]++
	data, ok := p.browser.pages[url]
	navErr := p.browser.navErrs[url]
	p.browser.mu.Unlock()

	if navErr != nil {
		return navErr
	}
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED %s", url)
	}
	p.mu.Lock()
	p.current = data
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	data := p.current
	p.mu.Unlock()
	if data == nil {
		return fmt.Errorf("no page loaded")
	}
	if data.Eval == nil {
		return fmt.Errorf("page has no eval script")
	}
	value, err := data.Eval(script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal eval result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal eval result: %w", err)
	}
	return nil
}

func (p *fakePage) Title(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return p.current.Title, nil
}

func (p *fakePage) Content(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return p.current.HTML, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.browser.mu.Lock()
	p.browser.open--
	p.browser.mu.Unlock()
	return nil
}
