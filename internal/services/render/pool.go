package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// browserPool manages long-lived headless browser processes with round-robin
// allocation. Renders open a fresh tab on a pooled browser, so pages stay
// isolated while the expensive browser startup is paid once.
type browserPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	size             int
	currentIndex     int
	userAgent        string
	logger           arbor.ILogger
	initialized      bool
}

func newBrowserPool(size int, userAgent string, logger arbor.ILogger) *browserPool {
	if size < 1 {
		size = 1
	}
	return &browserPool{
		size:      size,
		userAgent: userAgent,
		logger:    logger,
	}
}

// init launches the browser instances and verifies each one responds. A
// partially filled pool is kept; init fails only when no instance starts.
func (p *browserPool) init(startupTimeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}

	p.browsers = make([]context.Context, 0, p.size)
	p.browserCancels = make([]context.CancelFunc, 0, p.size)
	p.allocatorCancels = make([]context.CancelFunc, 0, p.size)
	p.currentIndex = 0

	p.logger.Info().
		Int("pool_size", p.size).
		Str("user_agent", p.userAgent).
		Msg("Initializing browser pool")

	successCount := 0
	var lastErr error
	for i := 0; i < p.size; i++ {
		if err := p.createInstance(i, startupTimeout); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to create browser instance")
			continue
		}
		successCount++
	}

	if successCount == 0 {
		p.cleanupInstances()
		return fmt.Errorf("failed to create any browser instances, last error: %w", lastErr)
	}

	if successCount < p.size {
		p.logger.Warn().
			Int("requested", p.size).
			Int("created", successCount).
			Msg("Created fewer browser instances than requested")
		p.size = successCount
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Msg("Browser pool initialized")

	return nil
}

// createInstance launches one browser and runs a startup probe against it.
// Must be called with the mutex held.
func (p *browserPool) createInstance(index int, startupTimeout time.Duration) error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(
		context.Background(),
		allocatorOpts...,
	)

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")

	return nil
}

// get returns the next browser context in round-robin order.
func (p *browserPool) get() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	if len(p.browsers) == 0 {
		return nil, fmt.Errorf("no browser instances available")
	}

	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)

	return p.browsers[index], nil
}

// shutdown tears down every browser in the pool, forcing the issue if
// cleanup hangs.
func (p *browserPool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}

	browserCount := len(p.browsers)
	p.logger.Info().
		Int("browser_count", browserCount).
		Msg("Shutting down browser pool")

	done := make(chan struct{})
	go func() {
		p.cleanupInstances()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().
			Int("browser_count", browserCount).
			Msg("Browser pool shutdown timed out, forcing cleanup")
		p.cleanupInstances()
	}

	p.initialized = false
	p.logger.Info().
		Int("browsers_shutdown", browserCount).
		Msg("Browser pool shut down")
}

// cleanupInstances cancels every browser and allocator context. Must be
// called with the mutex held.
func (p *browserPool) cleanupInstances() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}

	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}
