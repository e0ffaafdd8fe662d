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

// Package diag serves the diagnostic page over http.
package diag

import (
	"log"
	"mime"
	"net/http"
	"net/http/fcgi"
	"os"

	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/jucacrispim/tupi-envdump/internal/page"
)

const DefaultMaxFormMemory = 10 << 20

// Source returns the metadata shown for a request.
type Source func(r *http.Request) (page.Entries, error)

// Environ shows the process environment. This is what a CGI script sees.
func Environ(*http.Request) (page.Entries, error) {
	return page.FromEnviron(os.Environ()), nil
}

// RequestMeta shows the meta-variables a CGI script would get for r. The
// page itself plays the script found at the request path.
func RequestMeta(opts meta.Options) Source {
	return func(r *http.Request) (page.Entries, error) {
		m, err := meta.Build(r, meta.Script{Name: r.URL.Path}, opts)
		if err != nil {
			return nil, err
		}
		return page.FromMap(m), nil
	}
}

// FastCGI shows the params sent by the FastCGI web server followed by the
// request meta-variables it did not send.
func FastCGI(opts meta.Options) Source {
	fromRequest := RequestMeta(opts)
	return func(r *http.Request) (page.Entries, error) {
		params := page.FromMap(fcgi.ProcessEnv(r))
		m, err := fromRequest(r)
		if err != nil {
			return nil, err
		}
		return params.Merge(m), nil
	}
}

type Handler struct {
	Meta     Source
	Renderer page.Renderer
	// MaxFormMemory bounds the memory used by multipart forms.
	MaxFormMemory int64
	Logger        *log.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	source := h.Meta
	if source == nil {
		source = Environ
	}

	entries, err := source(r)
	if err != nil {
		logger.Println(err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var form page.Entries
	if r.Method == http.MethodPost {
		form = h.form(r, logger)
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if err := h.Renderer.Write(w, entries, form, r.Method); err != nil {
		logger.Printf("[tupi-envdump] writing page: %s", err.Error())
	}
}

// form returns the fields of a POST body. Fields parsed before an error are
// kept.
func (h Handler) form(r *http.Request, logger *log.Logger) page.Entries {
	var err error
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		maxMemory := h.MaxFormMemory
		if maxMemory <= 0 {
			maxMemory = DefaultMaxFormMemory
		}
		err = r.ParseMultipartForm(maxMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		logger.Printf("[tupi-envdump] parsing form: %s", err.Error())
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	return page.FromValues(r.PostForm)
}
