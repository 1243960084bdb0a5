// Package catalog loads and filters the static book catalog. The catalog is
// read once at startup; everything here is read-only afterwards.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tywang/bookhaul/internal/domain"
	"github.com/tywang/bookhaul/internal/logger"
)

// Catalog is an in-memory query structure over the book dataset.
type Catalog struct {
	books []domain.Book
}

// Load reads the catalog JSON file, skipping malformed entries.
// Parameters:
//   - path: local catalog file (all-books.json).
// Returns:
//   - *Catalog: loaded catalog.
//   - error: non-nil if the file is missing or not valid JSON.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w (run fetch first)", path, err)
	}
	return Parse(raw)
}

// Parse builds a catalog from raw JSON bytes.
// Parameters:
//   - raw: JSON array of book entries.
// Returns:
//   - *Catalog: parsed catalog with invalid entries dropped.
//   - error: non-nil if the payload is not a JSON array.
func Parse(raw []byte) (*Catalog, error) {
	var entries []domain.Book
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("catalog: malformed data: %w", err)
	}

	books := make([]domain.Book, 0, len(entries))
	dropped := 0
	for _, b := range entries {
		b.Title = strings.TrimSpace(b.Title)
		b.Author = strings.TrimSpace(b.Author)
		b.Link = strings.TrimSpace(b.Link)
		b.Category = strings.TrimSpace(b.Category)
		if !b.Valid() {
			dropped++
			continue
		}
		books = append(books, b)
	}
	if dropped > 0 {
		logger.GetDefault().WithField("count", dropped).Warn("Dropped invalid catalog entries")
	}

	return &Catalog{books: books}, nil
}

// Len returns the number of books in the catalog.
func (c *Catalog) Len() int {
	return len(c.books)
}

// Books returns all books.
func (c *Catalog) Books() []domain.Book {
	return c.books
}

// FilterOptions narrows the catalog for a download or list operation.
type FilterOptions struct {
	Categories        []string
	ExcludeCategories []string
	Keyword           string
	Limit             int
}

// Filter returns the books matching the options, preserving catalog order.
// Parameters:
//   - opts: category/keyword/limit constraints; zero values mean "all".
// Returns:
//   - []domain.Book: matching books.
func (c *Catalog) Filter(opts FilterOptions) []domain.Book {
	include := toSet(opts.Categories)
	exclude := toSet(opts.ExcludeCategories)
	keyword := strings.ToLower(opts.Keyword)

	var result []domain.Book
	for _, b := range c.books {
		if len(include) > 0 {
			if _, ok := include[b.Category]; !ok {
				continue
			}
		}
		if _, ok := exclude[b.Category]; ok {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(b.Title), keyword) &&
			!strings.Contains(strings.ToLower(b.Author), keyword) {
			continue
		}
		result = append(result, b)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result
}

// CategoryCount is one category with its book count.
type CategoryCount struct {
	Name  string
	Count int
}

// Categories returns all categories with counts, largest first.
func (c *Catalog) Categories() []CategoryCount {
	counts := make(map[string]int)
	for _, b := range c.books {
		counts[b.Category]++
	}
	result := make([]CategoryCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
