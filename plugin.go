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

package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jucacrispim/tupi-envdump/internal/diag"
	"github.com/jucacrispim/tupi-envdump/internal/gateway"
	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/jucacrispim/tupi-envdump/internal/page"
)

var INTERNAL_SERVER_ERROR_MSG = "Internal server error"

const (
	CgiMode     = "cgi"
	EnvdumpMode = "envdump"
)

var MissingConfigError = errors.New("[tupi-envdump] No config")
var NoCgiDirError = errors.New("[tupi-envdump] CGI_DIR missing from config")
var BadCgiDirError = errors.New("[tupi-envdump] CGI_DIR wrong config value")
var BadModeError = errors.New("[tupi-envdump] MODE wrong config value")
var BadTimeoutError = errors.New("[tupi-envdump] TIMEOUT wrong config value")
var BadMaxBodySizeError = errors.New("[tupi-envdump] MAX_BODY_SIZE wrong config value")

// handlers keeps the handler built for each domain config, so the
// gateway counters and limits live across requests.
var handlers sync.Map

func Init(domain string, conf *map[string]any) error {
	if conf == nil || *conf == nil {
		return MissingConfigError
	}
	h, err := newHandler(*conf)
	if err != nil {
		return err
	}
	handlers.Store(conf, h)
	return nil
}

func Serve(w http.ResponseWriter, r *http.Request, conf *map[string]any) {
	if conf == nil || *conf == nil {
		log.Println(MissingConfigError.Error())
		http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
		return
	}
	h, ok := handlers.Load(conf)
	if !ok {
		var err error
		h, err = newHandler(*conf)
		if err != nil {
			log.Println(err.Error())
			http.Error(w, INTERNAL_SERVER_ERROR_MSG, http.StatusInternalServerError)
			return
		}
		handlers.Store(conf, h)
	}
	h.(http.Handler).ServeHTTP(w, r)
}

func newHandler(c map[string]any) (http.Handler, error) {
	mode := CgiMode
	if m, exists := c["MODE"]; exists {
		s, ok := m.(string)
		if !ok || (s != CgiMode && s != EnvdumpMode) {
			return nil, BadModeError
		}
		mode = s
	}

	if mode == EnvdumpMode {
		title, _ := c["TITLE"].(string)
		raw, _ := c["RAW"].(bool)
		return diag.Handler{
			Meta:     diag.RequestMeta(meta.Options{}),
			Renderer: page.Renderer{Title: title, Raw: raw},
		}, nil
	}

	d, exists := c["CGI_DIR"]
	if !exists {
		return nil, NoCgiDirError
	}
	cgiDir, ok := d.(string)
	if !ok {
		return nil, BadCgiDirError
	}
	if _, err := os.Stat(cgiDir); err != nil {
		return nil, err
	}

	gwConf := gateway.Config{Dir: cgiDir}
	if t, exists := c["TIMEOUT"]; exists {
		s, ok := t.(string)
		if !ok {
			return nil, BadTimeoutError
		}
		timeout, err := time.ParseDuration(s)
		if err != nil {
			return nil, BadTimeoutError
		}
		gwConf.Timeout = timeout
	}
	if size, exists := c["MAX_BODY_SIZE"]; exists {
		// config decoders may give any of these number types
		switch n := size.(type) {
		case int:
			gwConf.MaxBodySize = int64(n)
		case int64:
			gwConf.MaxBodySize = n
		case float64:
			gwConf.MaxBodySize = int64(n)
		default:
			return nil, BadMaxBodySizeError
		}
	}
	return gateway.New(gwConf)
}
