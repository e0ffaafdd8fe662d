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

// Package meta builds the CGI meta-variables (RFC 3875) of a request.
package meta

import (
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	GatewayInterface = "CGI/1.1"
	ServerSoftware   = "tupi-envdump"
)

var ErrScriptNotFound = errors.New("[tupi-envdump] Script not found")
var ErrConfusingHost = errors.New("[tupi-envdump] I'm confused by the host")
var ErrBadPort = errors.New("[tupi-envdump] Bad port")
var ErrUnknownScheme = errors.New("[tupi-envdump] Unknown scheme")

// Script is a CGI script resolved from a request path.
type Script struct {
	// Name is the url path of the script.
	Name string
	// Filename is the script location on disk.
	Filename       string
	PathInfo       string
	PathTranslated string
}

// Options change how the meta-variables are built.
type Options struct {
	ServerSoftware string
	// NewID returns the UNIQUE_ID of a request. Defaults to a random uuid.
	NewID func() string
}

// FindScript looks for the script addressed by urlPath inside dir. The url
// prefix is stripped before the lookup. Directories are descended and the
// first regular file found is the script. What is left of the path after
// it is the PATH_INFO.
func FindScript(dir string, prefix string, urlPath string) (Script, error) {
	if !strings.HasPrefix(urlPath, prefix) {
		return Script{}, ErrScriptNotFound
	}
	rel := path.Clean("/" + strings.TrimPrefix(urlPath, prefix))
	pathparts := strings.Split(strings.TrimPrefix(rel, "/"), "/")
	current := dir
	for i, p := range pathparts {
		if p == "" {
			continue
		}
		testPath := filepath.Join(current, p)
		info, err := os.Stat(testPath)
		if err != nil {
			break
		}
		if info.IsDir() {
			current = testPath
			continue
		}
		if !info.Mode().IsRegular() {
			break
		}
		s := Script{
			Name:     strings.TrimSuffix(prefix, "/") + "/" + strings.Join(pathparts[:i+1], "/"),
			Filename: testPath,
		}
		if i+1 < len(pathparts) {
			s.PathInfo = "/" + strings.Join(pathparts[i+1:], "/")
			s.PathTranslated = dir + s.PathInfo
		}
		return s, nil
	}
	return Script{}, ErrScriptNotFound
}

// Build returns the meta-variables for r being handled by script.
func Build(r *http.Request, script Script, opts Options) (map[string]string, error) {
	serverName, port, err := hostAndPort(r)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string)
	for k, v := range r.Header {
		name := HeaderName(k)
		switch name {
		case "HTTP_PROXY", "HTTP_CONTENT_TYPE", "HTTP_CONTENT_LENGTH":
			continue
		case "HTTP_COOKIE":
			meta[name] = strings.Join(v, "; ")
		default:
			meta[name] = strings.Join(v, ", ")
		}
	}
	if r.Host != "" {
		meta["HTTP_HOST"] = r.Host
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		meta["CONTENT_TYPE"] = ct
	}
	if user, _, ok := r.BasicAuth(); ok {
		meta["AUTH_TYPE"] = "Basic"
		meta["REMOTE_USER"] = user
	}
	if r.TLS != nil {
		meta["HTTPS"] = "on"
	}
	if script.Filename != "" {
		meta["SCRIPT_FILENAME"] = script.Filename
	}

	software := opts.ServerSoftware
	if software == "" {
		software = ServerSoftware
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	requestURI := r.RequestURI
	if requestURI == "" {
		requestURI = r.URL.RequestURI()
	}
	contentLength := r.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}

	meta["CONTENT_LENGTH"] = strconv.FormatInt(contentLength, 10)
	meta["GATEWAY_INTERFACE"] = GatewayInterface
	meta["PATH_INFO"] = script.PathInfo
	meta["PATH_TRANSLATED"] = script.PathTranslated
	meta["SCRIPT_NAME"] = script.Name
	meta["QUERY_STRING"] = r.URL.RawQuery
	meta["REQUEST_METHOD"] = r.Method
	meta["REQUEST_URI"] = requestURI
	meta["REDIRECT_STATUS"] = "200"
	meta["SERVER_NAME"] = serverName
	meta["SERVER_PORT"] = strconv.Itoa(port)
	meta["SERVER_PROTOCOL"] = r.Proto
	meta["SERVER_SOFTWARE"] = software
	meta["UNIQUE_ID"] = newID()

	addr, remotePort := remoteAddr(r)
	meta["REMOTE_ADDR"] = addr
	if remotePort != "" {
		meta["REMOTE_PORT"] = remotePort
	}
	return meta, nil
}

// HeaderName returns the meta-variable name of an http header.
func HeaderName(header string) string {
	return "HTTP_" + strings.ReplaceAll(strings.ToUpper(header), "-", "_")
}

// Environ returns meta as a sorted list of KEY=VALUE strings.
func Environ(meta map[string]string) []string {
	env := make([]string, 0, len(meta))
	for k, v := range meta {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func hostAndPort(r *http.Request) (string, int, error) {
	if r.Host == "" {
		port, err := defaultPort(r)
		return "", port, err
	}
	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		unbracketed := strings.TrimSuffix(strings.TrimPrefix(r.Host, "["), "]")
		if strings.Contains(r.Host, ":") && unbracketed == r.Host {
			return "", 0, errors.Wrapf(ErrConfusingHost, "host %q", r.Host)
		}
		port, err := defaultPort(r)
		return strings.ToLower(unbracketed), port, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Wrapf(ErrBadPort, "host %q", r.Host)
	}
	return strings.ToLower(host), port, nil
}

func defaultPort(r *http.Request) (int, error) {
	if r.TLS != nil {
		return 443, nil
	}
	switch r.URL.Scheme {
	case "", "http":
		return 80, nil
	case "https":
		return 443, nil
	}
	return 0, errors.Wrapf(ErrUnknownScheme, "scheme %q", r.URL.Scheme)
}

func remoteAddr(r *http.Request) (string, string) {
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, ""
	}
	return host, port
}
