package lexgo

import (
	"context"
	"iter"
)

// DefaultStreamPageSize is the page size Stream fetches when no Limit is set.
const DefaultStreamPageSize = 100

// Query creates a fluent search builder for the given query text.
//
// Example:
//
//	resp, err := c.Query("red shoes").
//	    Limit(20).
//	    Sort("price:asc").
//	    Execute(ctx)
//
//	// Or page through every match:
//	for row, err := range c.Query("shoes").Stream(ctx) {
//	    if err != nil { break }
//	    process(row)
//	}
func (c *Collection) Query(q string) *SearchBuilder {
	return &SearchBuilder{c: c, req: Request{Query: q}}
}

// SearchBuilder is a fluent builder for constructing search requests.
type SearchBuilder struct {
	c   *Collection
	req Request
}

// Limit sets the number of rows to return.
func (sb *SearchBuilder) Limit(n int) *SearchBuilder {
	sb.req.Limit = n
	return sb
}

// Offset skips the first n matches.
func (sb *SearchBuilder) Offset(n int) *SearchBuilder {
	sb.req.Offset = n
	return sb
}

// Sort sets the sort specification, e.g. "price:desc" or "loc:40.7/-74.0".
// The default orders by relevance.
func (sb *SearchBuilder) Sort(spec string) *SearchBuilder {
	sb.req.Sort = spec
	return sb
}

// Lang sets the language used to analyze query terms.
func (sb *SearchBuilder) Lang(lang string) *SearchBuilder {
	sb.req.Lang = lang
	return sb
}

// Fields requests the values of numeric, bit or coord fields with each row.
func (sb *SearchBuilder) Fields(names ...string) *SearchBuilder {
	sb.req.Fields = append(sb.req.Fields, names...)
	return sb
}

// Snippets truncates stored snippets to n runes.
func (sb *SearchBuilder) Snippets(n int) *SearchBuilder {
	sb.req.SnippetLength = n
	return sb
}

// Verbatim matches query terms exactly as written, without analysis.
func (sb *SearchBuilder) Verbatim() *SearchBuilder {
	analyze := false
	sb.req.Analyze = &analyze
	return sb
}

// LimitWindow raises or lowers the cap on Offset+Limit for this request.
func (sb *SearchBuilder) LimitWindow(n int) *SearchBuilder {
	sb.req.LimitWindow = n
	return sb
}

// EstimateTotal allows the total to be extrapolated from a sample on large
// unsorted result sets.
func (sb *SearchBuilder) EstimateTotal() *SearchBuilder {
	sb.req.EstimateTotal = true
	return sb
}

// Request returns the request built so far.
func (sb *SearchBuilder) Request() Request { return sb.req }

// Execute runs the search.
func (sb *SearchBuilder) Execute(ctx context.Context) (*Response, error) {
	return sb.c.Search(ctx, sb.req)
}

// First returns the best match, or ErrNotFound if nothing matched.
func (sb *SearchBuilder) First(ctx context.Context) (Row, error) {
	req := sb.req
	req.Limit = 1
	resp, err := sb.c.Search(ctx, req)
	if err != nil {
		return Row{}, err
	}
	if len(resp.Rows) == 0 {
		return Row{}, ErrNotFound
	}
	return resp.Rows[0], nil
}

// Count returns the exact number of live matching documents. Sort order and
// EstimateTotal of the builder are ignored.
func (sb *SearchBuilder) Count(ctx context.Context) (uint64, error) {
	req := sb.req
	req.Limit = 1
	req.Offset = 0
	req.Sort = "none"
	req.EstimateTotal = false
	resp, err := sb.c.Search(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// Stream returns an iterator over every match starting at Offset, fetched in
// pages of Limit rows. The window cap does not apply. Pages are separate
// searches, so commits landing mid-iteration may shift rows between pages.
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		req := sb.req
		page := req.Limit
		if page <= 0 {
			page = DefaultStreamPageSize
		}
		req.Limit = page
		req.Offset = max(req.Offset, 0)

		for {
			req.LimitWindow = req.Offset + page
			resp, err := sb.c.Search(ctx, req)
			if err != nil {
				yield(Row{}, err)
				return
			}
			for _, row := range resp.Rows {
				if !yield(row, nil) {
					return
				}
			}
			req.Offset += len(resp.Rows)
			if len(resp.Rows) < page || uint64(req.Offset) >= resp.Total {
				return
			}
		}
	}
}
