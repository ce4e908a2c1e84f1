package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// networkSettleDelay approximates network-idle: CDP has no first-class idle
// signal, so script-heavy pages get a settle pause after the load event.
const networkSettleDelay = 2 * time.Second

// Service renders pages with a pool of headless Chrome instances. One render
// is one fresh tab; the returned page handle stays live until closed so the
// engine can share a single render across extraction passes.
type Service struct {
	pool        *browserPool
	pageTimeout time.Duration
	waitUntil   interfaces.WaitStrategy
	userAgent   string
	viewportW   int
	viewportH   int
	logger      arbor.ILogger
}

// NewService launches the browser pool and returns the renderer.
func NewService(config *common.RendererConfig, logger arbor.ILogger) (interfaces.PageRenderer, error) {
	pageTimeout := common.DurationOr(config.PageTimeout, 30*time.Second)

	waitUntil := interfaces.WaitDOMContentLoaded
	if config.WaitUntil == string(interfaces.WaitNetworkIdle) {
		waitUntil = interfaces.WaitNetworkIdle
	}

	pool := newBrowserPool(config.PoolSize, config.UserAgent, logger)
	if err := pool.init(pageTimeout); err != nil {
		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}

	return &Service{
		pool:        pool,
		pageTimeout: pageTimeout,
		waitUntil:   waitUntil,
		userAgent:   config.UserAgent,
		viewportW:   config.ViewportW,
		viewportH:   config.ViewportH,
		logger:      logger,
	}, nil
}

// Render navigates a fresh tab to the URL and returns the page handle plus
// the document HTTP status. The caller owns the handle and must Close it.
func (s *Service) Render(ctx context.Context, url string, opts interfaces.RenderOptions) (*interfaces.RenderResult, error) {
	browserCtx, err := s.pool.get()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	// Caller cancellation kills the tab during navigation; once Render
	// returns, the handle's lifetime belongs to its owner.
	stopWatch := context.AfterFunc(ctx, tabCancel)

	var statusMu sync.Mutex
	var status int
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			statusMu.Lock()
			if status == 0 {
				status = int(resp.Response.Status)
			}
			statusMu.Unlock()
		}
	})

	width := s.viewportW
	if opts.ViewportWidth > 0 {
		width = opts.ViewportWidth
	}
	height := s.viewportH
	if opts.ViewportHeight > 0 {
		height = opts.ViewportHeight
	}

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(int64(width), int64(height)),
	}

	// The pool browsers already carry the configured user agent; only a
	// per-render override needs the CDP call.
	if opts.UserAgent != "" && opts.UserAgent != s.userAgent {
		ua := opts.UserAgent
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
	}

	actions = append(actions, chromedp.Navigate(url), s.waitAction(opts.WaitUntil))

	start := time.Now()
	navCtx, navCancel := context.WithTimeout(tabCtx, s.pageTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, actions...); err != nil {
		stopWatch()
		tabCancel()
		return nil, fmt.Errorf("failed to render %s: %w", url, err)
	}
	stopWatch()

	statusMu.Lock()
	httpStatus := status
	statusMu.Unlock()
	if httpStatus == 0 {
		httpStatus = 200
	}

	s.logger.Debug().
		Str("url", url).
		Int("http_status", httpStatus).
		Dur("render_time", time.Since(start)).
		Msg("Page rendered")

	return &interfaces.RenderResult{
		HTTPStatus: httpStatus,
		Page:       &renderedPage{ctx: tabCtx, cancel: tabCancel},
	}, nil
}

func (s *Service) waitAction(strategy interfaces.WaitStrategy) chromedp.Action {
	if strategy == "" {
		strategy = s.waitUntil
	}
	switch strategy {
	case interfaces.WaitNetworkIdle:
		return chromedp.Sleep(networkSettleDelay)
	default:
		return chromedp.WaitReady("body", chromedp.ByQuery)
	}
}

// Close tears down the browser pool.
func (s *Service) Close() error {
	s.pool.shutdown()
	return nil
}

// renderedPage is a live tab. Operations run on the tab's own context; the
// caller context only gates how long we wait for them.
type renderedPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func (p *renderedPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html))
	if err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

func (p *renderedPage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := p.run(ctx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return nil
}

func (p *renderedPage) run(ctx context.Context, action chromedp.Action) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("page is closed")
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, action)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *renderedPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}
