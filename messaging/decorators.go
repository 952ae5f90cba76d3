package messaging

import (
	"context"

	"github.com/mamey-io/messaging-go/contracts"
)

// Paging bounds applied by the paging decorator.
const (
	DefaultPage           = 1
	DefaultResultsPerPage = 10
	MaxResultsPerPage     = 100
)

// Pageable is implemented by queries that carry paging parameters.
type Pageable interface {
	GetPage() int
	SetPage(page int)
	GetResultsPerPage() int
	SetResultsPerPage(resultsPerPage int)
}

// PagedQuery provides paging fields for query messages.
type PagedQuery struct {
	contracts.BaseQuery
	Page           int `json:"page"`
	ResultsPerPage int `json:"resultsPerPage"`
}

// GetPage returns the requested page.
func (q *PagedQuery) GetPage() int { return q.Page }

// SetPage sets the requested page.
func (q *PagedQuery) SetPage(page int) { q.Page = page }

// GetResultsPerPage returns the requested page size.
func (q *PagedQuery) GetResultsPerPage() int { return q.ResultsPerPage }

// SetResultsPerPage sets the requested page size.
func (q *PagedQuery) SetResultsPerPage(resultsPerPage int) { q.ResultsPerPage = resultsPerPage }

// PagingMiddleware normalizes paging parameters before the handler runs:
// page <= 0 becomes DefaultPage, resultsPerPage <= 0 becomes
// DefaultResultsPerPage, and resultsPerPage above MaxResultsPerPage is
// clamped. Non-pageable messages pass through untouched.
func PagingMiddleware() MiddlewareFunc {
	return func(ctx context.Context, msg contracts.Message, next MessageHandler) error {
		if pageable, ok := msg.(Pageable); ok {
			if pageable.GetPage() <= 0 {
				pageable.SetPage(DefaultPage)
			}
			if pageable.GetResultsPerPage() <= 0 {
				pageable.SetResultsPerPage(DefaultResultsPerPage)
			}
			if pageable.GetResultsPerPage() > MaxResultsPerPage {
				pageable.SetResultsPerPage(MaxResultsPerPage)
			}
		}
		return next.Handle(ctx, msg)
	}
}

// Validatable is implemented by messages that can check their own shape.
type Validatable interface {
	Validate() error
}

// ValidationMiddleware rejects malformed messages before the handler
// runs. The returned error is the message's own validation error; it
// never reaches the outbox.
func ValidationMiddleware() MiddlewareFunc {
	return func(ctx context.Context, msg contracts.Message, next MessageHandler) error {
		if validatable, ok := msg.(Validatable); ok {
			if err := validatable.Validate(); err != nil {
				return err
			}
		}
		return next.Handle(ctx, msg)
	}
}
