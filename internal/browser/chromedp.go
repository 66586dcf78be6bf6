package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the chromedp browser.
type Config struct {
	MaxPages          int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Chromedp implements Browser using headless Chrome via chromedp.
type Chromedp struct {
	cfg             Config
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	logger          *zap.Logger
}

// NewChromedp launches a headless Chrome allocator and warms up the browser.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var sem chan struct{}
	if cfg.MaxPages > 0 {
		sem = make(chan struct{}, cfg.MaxPages)
	}
	return &Chromedp{
		cfg:             cfg,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             sem,
		logger:          logger,
	}, nil
}

// NewPage opens a fresh tab, waiting for a slot when a page cap is set.
func (b *Chromedp) NewPage(ctx context.Context) (Page, error) {
	release := func() {}
	if b.sem != nil {
		select {
		case b.sem <- struct{}{}:
			release = func() { <-b.sem }
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire page slot: %w", ctx.Err())
		}
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	return &chromedpPage{
		ctx:     tabCtx,
		cancel:  tabCancel,
		release: release,
		logger:  b.logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Chromedp) Close() error {
	b.browserCancel()
	b.allocatorCancel()
	return nil
}

type chromedpPage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	release   func()
	closeOnce sync.Once
	logger    *zap.Logger
}

func (p *chromedpPage) SetUserAgent(ctx context.Context, userAgent string) error {
	if userAgent == "" {
		return nil
	}
	if err := p.run(ctx, emulation.SetUserAgentOverride(userAgent)); err != nil {
		return fmt.Errorf("set user-agent: %w", err)
	}
	return nil
}

func (p *chromedpPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	converted := network.Headers{}
	for key, value := range headers {
		converted[key] = value
	}
	if err := p.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(converted)); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	return nil
}

func (p *chromedpPage) SetRequestInterception(ctx context.Context, allow InterceptPolicy) error {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			// The target exists by the time events arrive.
			executor := cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)
			resourceType := strings.ToLower(string(paused.ResourceType))
			if allow == nil || allow(resourceType) {
				if err := fetch.ContinueRequest(paused.RequestID).Do(executor); err != nil {
					p.logger.Debug("continue intercepted request", zap.Error(err))
				}
				return
			}
			if err := fetch.FailRequest(paused.RequestID, network.ErrorReasonAborted).Do(executor); err != nil {
				p.logger.Debug("abort intercepted request", zap.Error(err))
			}
		}()
	})
	if err := p.run(ctx, fetch.Enable()); err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}
	return nil
}

func (p *chromedpPage) Navigate(ctx context.Context, rawURL string, wait WaitCondition, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var idle *networkIdleTracker
	if wait == WaitNetworkIdle {
		idle = trackNetworkIdle(p.ctx)
	}

	actions := []chromedp.Action{network.Enable(), chromedp.Navigate(rawURL)}
	switch wait {
	case WaitDOMContentLoaded, WaitNetworkIdle:
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	default:
		actions = append(actions, chromedp.WaitVisible("body", chromedp.ByQuery))
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	if idle != nil {
		if err := idle.wait(navCtx); err != nil {
			return fmt.Errorf("wait network idle: %w", err)
		}
	}
	return nil
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string, out any) error {
	if err := p.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return html, nil
}

func (p *chromedpPage) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.release()
	})
	return nil
}

func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// networkIdleTracker counts in-flight requests so navigation can wait for
// the networkidle2 condition (at most two pending requests for 500ms).
type networkIdleTracker struct {
	inflight atomic.Int64
}

func trackNetworkIdle(tabCtx context.Context) *networkIdleTracker {
	t := &networkIdleTracker{}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			t.inflight.Add(1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			t.inflight.Add(-1)
		}
	})
	return t
}

func (t *networkIdleTracker) wait(ctx context.Context) error {
	const (
		quietWindow  = 500 * time.Millisecond
		pollInterval = 100 * time.Millisecond
		idleMax      = 2
	)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var quietSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.inflight.Load() <= idleMax {
				if quietSince.IsZero() {
					quietSince = time.Now()
				} else if time.Since(quietSince) >= quietWindow {
					return nil
				}
			} else {
				quietSince = time.Time{}
			}
		}
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
