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

package meta

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func cgiDir(t *testing.T) string {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "something"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "script.py"), []byte(""), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestFindScript(t *testing.T) {
	dir := cgiDir(t)

	var tests = []struct {
		name     string
		prefix   string
		path     string
		expected Script
		err      error
	}{
		{
			"simple",
			"",
			"/something",
			Script{Name: "/something", Filename: filepath.Join(dir, "something")},
			nil,
		},
		{
			"with path info",
			"",
			"/something/the/path",
			Script{
				Name:           "/something",
				Filename:       filepath.Join(dir, "something"),
				PathInfo:       "/the/path",
				PathTranslated: dir + "/the/path",
			},
			nil,
		},
		{
			"with prefix",
			"/cgi-bin/",
			"/cgi-bin/sub/script.py",
			Script{Name: "/cgi-bin/sub/script.py", Filename: filepath.Join(dir, "sub", "script.py")},
			nil,
		},
		{
			"outside prefix",
			"/cgi-bin/",
			"/something",
			Script{},
			ErrScriptNotFound,
		},
		{
			"script does not exist",
			"",
			"/bad.cgi",
			Script{},
			ErrScriptNotFound,
		},
		{
			"directory only",
			"",
			"/sub",
			Script{},
			ErrScriptNotFound,
		},
		{
			"containing dotdot",
			"",
			"/../../../../../bin/ls",
			Script{},
			ErrScriptNotFound,
		},
		{
			"dotdot inside dir",
			"",
			"/sub/../something",
			Script{Name: "/something", Filename: filepath.Join(dir, "something")},
			nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := FindScript(dir, test.prefix, test.path)
			if !errors.Is(err, test.err) {
				t.Fatal(err, test.err)
			}
			if diff := cmp.Diff(test.expected, s); diff != "" {
				t.Fatalf("Bad script (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	script := Script{Name: "/something", Filename: "/cgi/something"}

	var testCases = []struct {
		name     string
		r        *http.Request
		expected map[string]string
	}{
		{
			"simple",
			func() *http.Request {
				r, _ := http.NewRequest("GET", "/something", nil)
				r.URL.Scheme = "http"
				return r
			}(),
			map[string]string{
				"QUERY_STRING":      "",
				"REMOTE_ADDR":       "",
				"REQUEST_METHOD":    "GET",
				"REQUEST_URI":       "/something",
				"REDIRECT_STATUS":   "200",
				"SERVER_NAME":       "",
				"SERVER_PORT":       "80",
				"SCRIPT_NAME":       "/something",
				"SCRIPT_FILENAME":   "/cgi/something",
				"PATH_INFO":         "",
				"PATH_TRANSLATED":   "",
				"CONTENT_LENGTH":    "0",
				"GATEWAY_INTERFACE": "CGI/1.1",
				"SERVER_PROTOCOL":   "HTTP/1.1",
				"SERVER_SOFTWARE":   "tupi-envdump",
				"UNIQUE_ID":         "the-id",
			},
		},
		{
			"tls with query string",
			func() *http.Request {
				r, _ := http.NewRequest("GET", "/something?the=query&other=param", nil)
				r.TLS = &tls.ConnectionState{}
				return r
			}(),
			map[string]string{
				"QUERY_STRING":      "the=query&other=param",
				"REMOTE_ADDR":       "",
				"REQUEST_METHOD":    "GET",
				"REQUEST_URI":       "/something?the=query&other=param",
				"REDIRECT_STATUS":   "200",
				"SERVER_NAME":       "",
				"SERVER_PORT":       "443",
				"SCRIPT_NAME":       "/something",
				"SCRIPT_FILENAME":   "/cgi/something",
				"PATH_INFO":         "",
				"PATH_TRANSLATED":   "",
				"CONTENT_LENGTH":    "0",
				"GATEWAY_INTERFACE": "CGI/1.1",
				"SERVER_PROTOCOL":   "HTTP/1.1",
				"SERVER_SOFTWARE":   "tupi-envdump",
				"UNIQUE_ID":         "the-id",
				"HTTPS":             "on",
			},
		},
		{
			"custom port and headers",
			func() *http.Request {
				r, _ := http.NewRequest("POST", "/something", nil)
				r.Host = "LocalHost:1234"
				r.RemoteAddr = "10.0.0.1:5555"
				r.ContentLength = 12
				r.Header.Add("Content-Type", "application/x-www-form-urlencoded")
				r.Header.Add("X-Forwarded-For", "1.1.1.1")
				r.Header.Add("X-Forwarded-For", "2.2.2.2")
				r.Header.Add("Cookie", "a=1")
				r.Header.Add("Cookie", "b=2")
				r.Header.Add("Proxy", "http://evil")
				r.SetBasicAuth("juca", "secret")
				return r
			}(),
			map[string]string{
				"QUERY_STRING":         "",
				"REMOTE_ADDR":          "10.0.0.1",
				"REMOTE_PORT":          "5555",
				"REMOTE_USER":          "juca",
				"AUTH_TYPE":            "Basic",
				"REQUEST_METHOD":       "POST",
				"REQUEST_URI":          "/something",
				"REDIRECT_STATUS":      "200",
				"SERVER_NAME":          "localhost",
				"SERVER_PORT":          "1234",
				"SCRIPT_NAME":          "/something",
				"SCRIPT_FILENAME":      "/cgi/something",
				"PATH_INFO":            "",
				"PATH_TRANSLATED":      "",
				"CONTENT_LENGTH":       "12",
				"CONTENT_TYPE":         "application/x-www-form-urlencoded",
				"GATEWAY_INTERFACE":    "CGI/1.1",
				"SERVER_PROTOCOL":      "HTTP/1.1",
				"SERVER_SOFTWARE":      "tupi-envdump",
				"UNIQUE_ID":            "the-id",
				"HTTP_HOST":            "LocalHost:1234",
				"HTTP_X_FORWARDED_FOR": "1.1.1.1, 2.2.2.2",
				"HTTP_COOKIE":          "a=1; b=2",
				"HTTP_AUTHORIZATION":   "Basic anVjYTpzZWNyZXQ=",
			},
		},
	}

	opts := Options{NewID: func() string { return "the-id" }}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			meta, err := Build(test.r, script, opts)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.expected, meta); diff != "" {
				t.Fatalf("Bad meta vars (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	var tests = []struct {
		name   string
		host   string
		scheme string
		err    error
	}{
		{"bad port", "localhost:ss", "", ErrBadPort},
		{"too many colons", "a:b:c", "", ErrConfusingHost},
		{"unknown scheme", "", "gopher", ErrUnknownScheme},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, _ := http.NewRequest("GET", "/something", nil)
			r.Host = test.host
			r.URL.Scheme = test.scheme
			_, err := Build(r, Script{}, Options{})
			if !errors.Is(err, test.err) {
				t.Fatal(err, test.err)
			}
		})
	}
}

func TestBuild_UniqueID(t *testing.T) {
	r, _ := http.NewRequest("GET", "/something", nil)
	first, err := Build(r, Script{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Build(r, Script{}, Options{})
	if _, err := uuid.Parse(first["UNIQUE_ID"]); err != nil {
		t.Fatalf("bad id %s", first["UNIQUE_ID"])
	}
	if first["UNIQUE_ID"] == second["UNIQUE_ID"] {
		t.Fatal("ids are not unique")
	}
}

func TestBuild_IPv6Host(t *testing.T) {
	r, _ := http.NewRequest("GET", "/something", nil)
	r.Host = "[::1]"
	m, err := Build(r, Script{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m["SERVER_NAME"] != "::1" || m["SERVER_PORT"] != "80" {
		t.Fatalf("bad server %s %s", m["SERVER_NAME"], m["SERVER_PORT"])
	}
}

func TestEnviron(t *testing.T) {
	env := Environ(map[string]string{"B": "2", "A": "x=y"})
	if diff := cmp.Diff([]string{"A=x=y", "B=2"}, env); diff != "" {
		t.Fatalf("bad environ:\n%s", diff)
	}
}
