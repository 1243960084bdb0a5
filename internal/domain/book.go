package domain

import "strings"

// Book is one catalog entry describing a downloadable ebook archive.
// Books are immutable; they are loaded once from the catalog file.
type Book struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Link     string   `json:"link"`
	Category string   `json:"category"`
	Language string   `json:"language"`
	Formats  []string `json:"formats"`
}

// UID returns the stable unique key for the book, derived from the last
// path segment of its share link (query string stripped). A link like
// https://url89.ctfile.com/f/21049712-1274261718-4edcd9?p=8866 yields
// "21049712-1274261718-4edcd9".
func (b Book) UID() string {
	link := b.Link
	if i := strings.IndexByte(link, '?'); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndexByte(link, '/'); i >= 0 {
		return link[i+1:]
	}
	return link
}

// Valid reports whether the book carries the minimum fields needed to
// schedule a download.
func (b Book) Valid() bool {
	return b.Title != "" && b.Link != "" && b.UID() != ""
}
