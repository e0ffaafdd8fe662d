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

// Package gateway runs CGI scripts for http requests.
package gateway

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const INTERNAL_SERVER_ERROR_MSG = "Internal server error"

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxBodySize = 1 << 20
)

var DefaultAllowedMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost}
var DefaultInheritEnv = []string{"PATH"}

var NoDirError = errors.New("[tupi-envdump] CGI dir missing")
var BadDirError = errors.New("[tupi-envdump] CGI dir is not a directory")

type Config struct {
	// Dir is where the scripts live.
	Dir string
	// Prefix is the url path the gateway is mounted at.
	Prefix         string
	Timeout        time.Duration
	MaxBodySize    int64
	AllowedMethods []string
	// InheritEnv are the names of variables passed from the server
	// environment to the scripts.
	InheritEnv []string
	// Interpreters maps a file extension, like ".py", to the program
	// that runs it.
	Interpreters map[string]string
	// MaxInFlight caps the number of scripts running at once. Zero means
	// no cap.
	MaxInFlight int64
	// SpawnRate is the number of scripts started per second. Zero means
	// no limit.
	SpawnRate      float64
	SpawnBurst     int
	ServerSoftware string
	Logger         *log.Logger
}

type Stats struct {
	Served   int64
	Rejected int64
	Failed   int64
	InFlight int64
}

// Gateway is an http.Handler that executes the script addressed by the
// request path and relays its output.
type Gateway struct {
	conf    Config
	limiter *rate.Limiter
	logger  *log.Logger
	newID   func() string

	inFlight atomic.Int64
	served   atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func New(conf Config) (*Gateway, error) {
	if conf.Dir == "" {
		return nil, NoDirError
	}
	dir, err := filepath.Abs(conf.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cgi dir %s", conf.Dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cgi dir %s", conf.Dir)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(BadDirError, "cgi dir %s", conf.Dir)
	}
	conf.Dir = dir

	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.MaxBodySize <= 0 {
		conf.MaxBodySize = DefaultMaxBodySize
	}
	if len(conf.AllowedMethods) == 0 {
		conf.AllowedMethods = DefaultAllowedMethods
	}
	if conf.InheritEnv == nil {
		conf.InheritEnv = DefaultInheritEnv
	}
	g := &Gateway{conf: conf, logger: conf.Logger, newID: uuid.NewString}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if conf.SpawnRate > 0 {
		burst := conf.SpawnBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(conf.SpawnRate), burst)
	}
	return g, nil
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Served:   g.served.Load(),
		Rejected: g.rejected.Load(),
		Failed:   g.failed.Load(),
		InFlight: g.inFlight.Load(),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := g.newID()
	status, script := g.serve(w, r, id)
	g.logger.Printf("[tupi-envdump] %s %s %s %s -> %d (%s)",
		id, r.Method, r.URL.Path, script, status, time.Since(start))
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, id string) (int, string) {
	if !g.allowed(r.Method) {
		w.Header().Set("Allow", strings.Join(g.conf.AllowedMethods, ", "))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed, ""
	}

	script, err := meta.FindScript(g.conf.Dir, g.conf.Prefix, r.URL.Path)
	if err != nil {
		http.Error(w, "NOT FOUND", http.StatusNotFound)
		return http.StatusNotFound, ""
	}

	n := g.inFlight.Inc()
	defer g.inFlight.Dec()
	if (g.conf.MaxInFlight > 0 && n > g.conf.MaxInFlight) ||
		(g.limiter != nil && !g.limiter.Allow()) {
		g.rejected.Inc()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return http.StatusServiceUnavailable, script.Name
	}

	var rawBody []byte
	if r.Body != nil && r.ContentLength != 0 {
		defer r.Body.Close()
		rawBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, g.conf.MaxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
				return http.StatusRequestEntityTooLarge, script.Name
			}
			http.Error(w, "Bad request", http.StatusBadRequest)
			return http.StatusBadRequest, script.Name
		}
	}

	m, err := meta.Build(r, script, meta.Options{
		ServerSoftware: g.conf.ServerSoftware,
		NewID:          func() string { return id },
	})
	if err != nil {
		g.failed.Inc()
		g.logger.Println(err.Error())
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return http.StatusInternalServerError, script.Name
	}
	m["CONTENT_LENGTH"] = strconv.Itoa(len(rawBody))

	output, err := g.execCmd(r.Context(), script, m, rawBody)
	if err != nil {
		g.failed.Inc()
		g.logger.Printf("[tupi-envdump] %s %s", id, err.Error())
		if errors.Cause(err) == context.DeadlineExceeded {
			http.Error(w, "Gateway timeout", http.StatusGatewayTimeout)
			return http.StatusGatewayTimeout, script.Name
		}
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return http.StatusInternalServerError, script.Name
	}

	resp, err := ParseResponse(output)
	if err != nil {
		g.failed.Inc()
		g.logger.Printf("[tupi-envdump] %s %s", id, err.Error())
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return http.StatusInternalServerError, script.Name
	}

	g.served.Inc()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
	return resp.Status, script.Name
}

func (g *Gateway) allowed(method string) bool {
	for _, m := range g.conf.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (g *Gateway) execCmd(ctx context.Context, script meta.Script, m map[string]string, rawBody []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.conf.Timeout)
	defer cancel()

	env := meta.Environ(m)
	for _, name := range g.conf.InheritEnv {
		if _, exists := m[name]; exists {
			continue
		}
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	cmdPath := script.Filename
	var args []string
	if interp, ok := g.conf.Interpreters[filepath.Ext(script.Filename)]; ok {
		cmdPath = interp
		args = []string{script.Filename}
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Env = env
	cmd.Dir = filepath.Dir(script.Filename)
	cmd.Stdin = bytes.NewReader(rawBody)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		g.logger.Printf("[tupi-envdump] %s stderr: %s", script.Name, strings.TrimSpace(stderr.String()))
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Wrapf(context.DeadlineExceeded, "running %s", script.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "running %s", script.Name)
	}
	return stdout.Bytes(), nil
}
