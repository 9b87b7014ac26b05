// Package lexgo provides an embeddable full-text search engine for Go.
//
// A collection is a directory of immutable segments described by a
// versioned manifest. One process writes; any number of processes search.
// Writes are buffered in memory and become visible atomically on Commit.
//
// # Quick Start
//
//	ctx := context.Background()
//	c, _ := lexgo.Open(ctx, "./data")
//	defer c.Close()
//
//	doc := document.New("1").
//	    Add(document.TextField("title", "Red running shoes")).
//	    Add(document.NumericField("price", 4, 4999)).
//	    WithSnippet("Red running shoes")
//	_ = c.Add(ctx, doc)
//	_ = c.Commit(ctx)  // searchable and durable after this
//
//	resp, _ := c.Query("red shoes").Sort("price:asc").Limit(10).Execute(ctx)
//	for _, row := range resp.Rows {
//	    fmt.Println(row.ID, row.Score, row.Snippet)
//	}
//
// # Query Syntax
//
// Adjacent terms are joined with the default operator (AND unless changed
// with WithDefaults):
//
//	red shoes              both terms
//	red OR blue            either term
//	shoes -red             shoes without red
//	shoes -red hat         shoes without (red and hat)
//	"running shoes"^2      phrase with slop 2
//	title:(red blue)       group scoped to one field
//	run*  *ing             prefix and suffix wildcards
//	price:[100 TO 500]     numeric range, also price:>100, price:100..500
//	flags:&3               bit tests: &M any, &=M all, &!M none
//	loc:40.7/-74.0~5       within 5 km of a point
//
// OR and the '-' operator bind looser than AND and adjacency, which is why
// the terms after '-' above group together.
//
// Malformed queries, unknown sort fields and oversized windows return a
// *QueryError whose Status mirrors an HTTP code.
//
// # Durability Model
//
//	c.Add(ctx, doc)   // buffered in memory
//	c.Commit(ctx)     // new segment written, manifest swapped
//
// A failed manifest swap restores the backup and returns ErrFatal; the
// collection stays on its last good version. Segments are merged in the
// background by a tiered policy, or into one with Optimize.
//
// # Export and Restore
//
// A committed collection can be copied to any blobstore.Store (local
// directory, memory, S3 or MinIO) and restored elsewhere:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("products/"))
//	info, _ := c.Export(ctx, store)
//	info, _ = other.Restore(ctx, store)
//
// # Key Features
//
//   - Text, term-set, string, list, numeric, bit and coordinate fields
//   - TF-IDF scoring with field weights
//   - Sorting by score, column value or geo distance
//   - Snapshot isolation for searches across commits
//   - Multi-directory segment placement
//   - Result caching with automatic invalidation
//   - Prometheus metrics via package prommetrics
package lexgo
