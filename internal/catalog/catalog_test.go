package catalog

import (
	"testing"
)

const sampleCatalog = `[
	{"title": "Go in Practice", "author": "A. Writer", "link": "https://url89.ctfile.com/f/1-100-aa", "category": "技术"},
	{"title": "Deep Sea", "author": "B. Writer", "link": "https://url89.ctfile.com/f/1-200-bb", "category": "科幻"},
	{"title": "Old Tales", "author": "C. Writer", "link": "https://url89.ctfile.com/f/1-300-cc", "category": "文学"},
	{"title": "Space Tales", "author": "B. Writer", "link": "https://url89.ctfile.com/f/1-400-dd", "category": "科幻"},
	{"title": "", "author": "nobody", "link": "https://url89.ctfile.com/f/1-500-ee", "category": "文学"},
	{"title": "No Link", "author": "nobody", "link": "", "category": "文学"}
]`

func TestParseDropsInvalidEntries(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cat.Len() != 4 {
		t.Errorf("Len() = %d, want 4 (two invalid entries dropped)", cat.Len())
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{"not": "an array"}`)); err == nil {
		t.Error("expected error for non-array payload")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFilter(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	testCases := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{name: "no filter", opts: FilterOptions{}, want: 4},
		{name: "single category", opts: FilterOptions{Categories: []string{"科幻"}}, want: 2},
		{name: "exclude category", opts: FilterOptions{ExcludeCategories: []string{"科幻"}}, want: 2},
		{name: "keyword in title", opts: FilterOptions{Keyword: "tales"}, want: 2},
		{name: "keyword in author", opts: FilterOptions{Keyword: "b. writer"}, want: 2},
		{name: "keyword and category", opts: FilterOptions{Categories: []string{"科幻"}, Keyword: "deep"}, want: 1},
		{name: "limit", opts: FilterOptions{Limit: 2}, want: 2},
		{name: "no match", opts: FilterOptions{Keyword: "zzz"}, want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := cat.Filter(tc.opts)
			if len(got) != tc.want {
				t.Errorf("Filter() returned %d books, want %d", len(got), tc.want)
			}
		})
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	books := cat.Filter(FilterOptions{Categories: []string{"科幻"}})
	if len(books) != 2 {
		t.Fatalf("got %d books, want 2", len(books))
	}
	if books[0].Title != "Deep Sea" || books[1].Title != "Space Tales" {
		t.Errorf("catalog order not preserved: %q, %q", books[0].Title, books[1].Title)
	}
}

func TestCategories(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	counts := cat.Categories()
	if len(counts) != 3 {
		t.Fatalf("got %d categories, want 3", len(counts))
	}
	if counts[0].Name != "科幻" || counts[0].Count != 2 {
		t.Errorf("largest category = %s (%d), want 科幻 (2)", counts[0].Name, counts[0].Count)
	}
}
