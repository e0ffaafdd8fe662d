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

package diag

import (
	"bytes"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/jucacrispim/tupi-envdump/internal/page"
	"github.com/pkg/errors"
)

var quiet = log.New(io.Discard, "", 0)

func fixed(entries page.Entries) Source {
	return func(*http.Request) (page.Entries, error) {
		return entries, nil
	}
}

func TestHandler(t *testing.T) {
	type validateFn func(t *testing.T, w *httptest.ResponseRecorder)
	var testCases = []struct {
		name     string
		h        Handler
		r        *http.Request
		validate validateFn
	}{
		{
			"get request",
			Handler{Meta: fixed(page.Entries{{Key: "REQUEST_METHOD", Value: "GET"}})},
			httptest.NewRequest("GET", "/envdump?name=alice", nil),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				if w.Code != http.StatusOK {
					t.Fatalf("Invalid status code %d", w.Code)
				}
				if ct := w.Header().Get("Content-Type"); ct != "text/html" {
					t.Fatalf("Invalid content type %s", ct)
				}
				b := w.Body.String()
				if !strings.Contains(b, "<li>REQUEST_METHOD: GET</li>") {
					t.Fatalf("Invalid body %s", b)
				}
				if strings.Contains(b, "POST Data") || strings.Contains(b, "alice") {
					t.Fatalf("Invalid body %s", b)
				}
			},
		},
		{
			"urlencoded post",
			Handler{Meta: fixed(page.Entries{{Key: "REQUEST_METHOD", Value: "POST"}})},
			func() *http.Request {
				r := httptest.NewRequest("POST", "/envdump", strings.NewReader("name=alice&x=%3Cb%3E"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			}(),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				b := w.Body.String()
				for _, c := range []string{"<h2>POST Data:</h2>", "<li>name: alice</li>", "<li>x: &lt;b&gt;</li>"} {
					if !strings.Contains(b, c) {
						t.Fatalf("%q not in %s", c, b)
					}
				}
			},
		},
		{
			"query string is not post data",
			Handler{Meta: fixed(nil)},
			func() *http.Request {
				r := httptest.NewRequest("POST", "/envdump?q=1", strings.NewReader(""))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			}(),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				b := w.Body.String()
				if !strings.Contains(b, "<h2>POST Data:</h2>\n<ul>\n</ul>") {
					t.Fatalf("Invalid body %s", b)
				}
			},
		},
		{
			"multipart post",
			Handler{Meta: fixed(nil)},
			func() *http.Request {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				mw.WriteField("name", "alice")
				mw.Close()
				r := httptest.NewRequest("POST", "/envdump", &buf)
				r.Header.Set("Content-Type", mw.FormDataContentType())
				return r
			}(),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				b := w.Body.String()
				if !strings.Contains(b, "<li>name: alice</li>") {
					t.Fatalf("Invalid body %s", b)
				}
			},
		},
		{
			"malformed post",
			Handler{Meta: fixed(nil)},
			func() *http.Request {
				r := httptest.NewRequest("POST", "/envdump", strings.NewReader("a=%zz"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			}(),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				if w.Code != http.StatusOK {
					t.Fatalf("Invalid status code %d", w.Code)
				}
				if !strings.Contains(w.Body.String(), "<h2>POST Data:</h2>") {
					t.Fatalf("Invalid body %s", w.Body.String())
				}
			},
		},
		{
			"raw output",
			Handler{
				Meta:     fixed(page.Entries{{Key: "X", Value: "<i>"}}),
				Renderer: page.Renderer{Raw: true, Title: "Env"},
			},
			httptest.NewRequest("GET", "/envdump", nil),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				b := w.Body.String()
				if !strings.Contains(b, "<li>X: <i></li>") || !strings.Contains(b, "<h1>Env</h1>") {
					t.Fatalf("Invalid body %s", b)
				}
			},
		},
		{
			"source error",
			Handler{Meta: func(*http.Request) (page.Entries, error) {
				return nil, errors.New("no env")
			}},
			httptest.NewRequest("GET", "/envdump", nil),
			func(t *testing.T, w *httptest.ResponseRecorder) {
				if w.Code != http.StatusInternalServerError {
					t.Fatalf("Invalid status code %d", w.Code)
				}
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			test.h.Logger = quiet
			test.h.ServeHTTP(w, test.r)
			test.validate(t, w)
		})
	}
}

func entryMap(entries page.Entries) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return m
}

func TestEnviron(t *testing.T) {
	t.Setenv("ENVDUMP_TEST_VAR", "the value")
	entries, err := Environ(nil)
	if err != nil {
		t.Fatal(err)
	}
	if entryMap(entries)["ENVDUMP_TEST_VAR"] != "the value" {
		t.Fatalf("missing var in %v", entries)
	}
}

func TestHandler_DefaultSource(t *testing.T) {
	t.Setenv("REQUEST_METHOD", "GET")
	w := httptest.NewRecorder()
	Handler{Logger: quiet}.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if !strings.Contains(w.Body.String(), "<li>REQUEST_METHOD: GET</li>") {
		t.Fatalf("Invalid body %s", w.Body.String())
	}
}

func TestRequestMeta(t *testing.T) {
	opts := meta.Options{NewID: func() string { return "the-id" }}
	r := httptest.NewRequest("GET", "/envdump?a=1", nil)
	entries, err := RequestMeta(opts)(r)
	if err != nil {
		t.Fatal(err)
	}
	m := entryMap(entries)
	if m["SCRIPT_NAME"] != "/envdump" || m["QUERY_STRING"] != "a=1" || m["UNIQUE_ID"] != "the-id" {
		t.Fatalf("bad meta %v", m)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key > entries[i].Key {
			t.Fatalf("entries not sorted %v", entries)
		}
	}

	r.Host = "localhost:ss"
	if _, err := RequestMeta(opts)(r); !errors.Is(err, meta.ErrBadPort) {
		t.Fatal(err)
	}
}

func TestFastCGI(t *testing.T) {
	r := httptest.NewRequest("GET", "/envdump", nil)
	entries, err := FastCGI(meta.Options{})(r)
	if err != nil {
		t.Fatal(err)
	}
	if entryMap(entries)["REQUEST_METHOD"] != "GET" {
		t.Fatalf("bad meta %v", entries)
	}
}
