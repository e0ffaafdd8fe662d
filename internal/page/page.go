// Copyright 2024 Juca Crispim <juca@poraodojuca.net>

// This file is part of tupi-envdump.

// tupi-envdump is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// tupi-envdump is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with tupi-envdump. If not, see <http://www.gnu.org/licenses/>.

// Package page renders the diagnostic HTML page: the request metadata and,
// for POST requests, the submitted form fields.
package page

import (
	"html"
	"io"
	"strings"
)

const DefaultTitle = "CGI Diagnostics"

const (
	EnvHeading  = "Environment Variables:"
	PostHeading = "POST Data:"
)

// Renderer holds the presentation options of the page. The zero value
// renders escaped output under DefaultTitle.
type Renderer struct {
	Title string
	// Raw disables html escaping of keys and values.
	Raw bool
}

// Render returns the page for the given metadata and form entries. The form
// section is only present when method is POST.
func Render(meta, form Entries, method string) string {
	return Renderer{}.Render(meta, form, method)
}

// Write streams the page produced by Render to w.
func Write(w io.Writer, meta, form Entries, method string) error {
	return Renderer{}.Write(w, meta, form, method)
}

func (rd Renderer) Render(meta, form Entries, method string) string {
	var b strings.Builder
	rd.build(&b, meta, form, method)
	return b.String()
}

func (rd Renderer) Write(w io.Writer, meta, form Entries, method string) error {
	_, err := io.WriteString(w, rd.Render(meta, form, method))
	return err
}

func (rd Renderer) build(b *strings.Builder, meta, form Entries, method string) {
	title := rd.Title
	if title == "" {
		title = DefaultTitle
	}
	b.WriteString("<html><body>\n")
	b.WriteString("<h1>" + rd.text(title) + "</h1>\n")
	rd.section(b, EnvHeading, meta)
	if method == "POST" {
		rd.section(b, PostHeading, form)
	}
	b.WriteString("</body></html>\n")
}

func (rd Renderer) section(b *strings.Builder, heading string, entries Entries) {
	b.WriteString("<h2>" + heading + "</h2>\n")
	b.WriteString("<ul>\n")
	for _, e := range entries {
		b.WriteString("<li>" + rd.text(e.Key) + ": " + rd.text(e.Value) + "</li>\n")
	}
	b.WriteString("</ul>\n")
}

func (rd Renderer) text(s string) string {
	if rd.Raw {
		return s
	}
	return html.EscapeString(s)
}
