// Package templates renders the HTML pages. The components live in .templ
// files next to their generated _templ.go output.
package templates

//go:generate templ generate

import "github.com/PhilHem/go-file-vault/backend/models"

// Flash is a one-shot message shown on the next rendered page. Category is
// one of success, info, warning or danger.
type Flash struct {
	Category string
	Message  string
}

// Page carries the per-request values every page needs.
type Page struct {
	Title   string
	CSRF    string
	User    *models.User
	Flashes []Flash
}

// WithTitle returns a copy of p with the given title.
func (p Page) WithTitle(title string) Page {
	p.Title = title
	return p
}
