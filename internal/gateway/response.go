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

package gateway

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidResponse = errors.New("[tupi-envdump] Invalid cgi response")

// ErrBadStatus is an ErrInvalidResponse caused by the Status header.
var ErrBadStatus = errors.Wrap(ErrInvalidResponse, "bad status")

// hopHeaders are connection level headers a script must not set for the
// client connection.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Response is the parsed output of a CGI script.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ParseResponse splits the script output in headers and body. The header
// block ends at the first empty line and must have at least one header.
func ParseResponse(output []byte) (*Response, error) {
	header := make(http.Header)
	rest := output
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return nil, ErrInvalidResponse
		}
		line := strings.TrimRight(string(rest[:i]), "\r")
		rest = rest[i+1:]
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Wrapf(ErrInvalidResponse, "bad header line %q", line)
		}
		header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	if len(header) == 0 {
		return nil, errors.Wrap(ErrInvalidResponse, "no headers")
	}

	status := http.StatusOK
	if sts := header.Get("Status"); sts != "" {
		code, _, _ := strings.Cut(sts, " ")
		n, err := strconv.Atoi(code)
		if err != nil || n < 100 || n > 999 {
			return nil, errors.Wrapf(ErrBadStatus, "status %q", sts)
		}
		status = n
		header.Del("Status")
	} else if header.Get("Location") != "" {
		status = http.StatusFound
	}

	if strings.EqualFold(header.Get("Transfer-Encoding"), "chunked") {
		body, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(rest)))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidResponse, "bad chunked body: %s", err)
		}
		rest = body
		header.Del("Content-Length")
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return &Response{Status: status, Header: header, Body: rest}, nil
}
