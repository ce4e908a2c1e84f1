package interfaces

import "context"

// WaitStrategy controls when a rendered page is considered loaded.
type WaitStrategy string

const (
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitNetworkIdle      WaitStrategy = "networkidle"
)

// RenderOptions carries per-render overrides. Zero values fall back to the
// renderer's configured defaults.
type RenderOptions struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	WaitUntil      WaitStrategy
}

// Page is a handle to one rendered page. Callers must Close it; the engine
// renders once per URL job and shares the handle across extraction passes.
type Page interface {
	// HTML returns the rendered document's outer HTML.
	HTML(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// JSON result into out.
	Evaluate(ctx context.Context, expression string, out interface{}) error

	Close() error
}

// RenderResult is the outcome of one page render.
type RenderResult struct {
	HTTPStatus int
	Page       Page
}

// PageRenderer is the headless-browser collaborator. Implementations own
// browser lifecycle and pooling; the core never talks to a browser directly.
type PageRenderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (*RenderResult, error)
	Close() error
}
