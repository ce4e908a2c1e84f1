// Package miners holds the extraction strategies that turn raw input into
// candidate contacts. Miners are stateless across invocations, never cross
// tenant boundaries, and report failures through the result bundle rather
// than panicking across the pipeline.
package miners

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Input is the shared payload handed to every miner. The engine populates
// only the parts the job type provides: Text for text and file jobs,
// Sheets and ColumnMap for tabular data, URL/HTML/HTTPStatus for rendered
// pages, and Blocks once a page has been segmented so the DOM and AI
// miners share one render.
type Input struct {
	Text      string
	Sheets    [][][]string
	ColumnMap map[models.Field]int

	URL        string
	HTML       string
	HTTPStatus int

	Blocks      []string
	BlockMethod string
}

// Miner is one extraction strategy. Implementations return a structured
// bundle even on failure; the error return is reserved for programming
// errors and context cancellation.
type Miner interface {
	Type() models.MinerType
	Mine(ctx context.Context, input *Input) (*models.MinerResult, error)
}

// Registry holds miners in declaration order. The order doubles as the
// scoring tie-break priority in the deduplicator and merger.
type Registry struct {
	miners []Miner
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(miners ...Miner) *Registry {
	return &Registry{miners: miners}
}

// All returns every registered miner in declaration order.
func (r *Registry) All() []Miner {
	return r.miners
}

// Order returns the miner types in declaration order.
func (r *Registry) Order() []models.MinerType {
	order := make([]models.MinerType, 0, len(r.miners))
	for _, m := range r.miners {
		order = append(order, m.Type())
	}
	return order
}

// Select returns the miners enabled by the job's flags, in order.
func (r *Registry) Select(flags models.MinerFlags) []Miner {
	var selected []Miner
	for _, m := range r.miners {
		if flags.Enabled(m.Type()) {
			selected = append(selected, m)
		}
	}
	return selected
}
