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
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jucacrispim/tupi-envdump/internal/config"
	"github.com/jucacrispim/tupi-envdump/internal/diag"
	"github.com/jucacrispim/tupi-envdump/internal/gateway"
	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func initServeCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagnostic page and a CGI directory over http",
		RunE:  serve,
	}
	fs := cmd.Flags()
	fs.String("server.addr", ":8080", "Address to listen on")
	fs.String("server.page-path", "/envdump", "Url path of the diagnostic page")
	fs.String("server.cgi-path", "/cgi-bin/", "Url path the CGI scripts are served at")
	fs.Duration("server.shutdown-timeout", 5*time.Second, "Time to wait for requests on shutdown")
	addGatewayFlags(fs)
	return cmd
}

func addGatewayFlags(fs *pflag.FlagSet) {
	fs.String("gateway.dir", "", "Directory with the CGI scripts. Empty disables the gateway")
	fs.Duration("gateway.timeout", gateway.DefaultTimeout, "Time a script may run")
	fs.Int64("gateway.max-body-size", gateway.DefaultMaxBodySize, "Largest request body passed to a script")
	fs.Int64("gateway.max-in-flight", 0, "Scripts running at once, 0 = no limit")
	fs.Float64("gateway.spawn-rate", 0, "Scripts started per second, 0 = no limit")
	fs.Int("gateway.spawn-burst", 1, "Scripts started at once when spawn-rate is set")
}

// newServeMux mounts the diagnostic page and, when a CGI dir is
// configured, the gateway. The returned gateway is nil without a CGI dir.
func newServeMux(conf *config.Config) (*http.ServeMux, *gateway.Gateway, error) {
	mux := http.NewServeMux()
	mux.Handle(conf.Server.PagePath, diagHandler(diag.RequestMeta(meta.Options{})))
	if conf.Gateway.Dir == "" {
		return mux, nil, nil
	}
	gw, err := gateway.New(conf.GatewayConfig(conf.Server.CGIPath))
	if err != nil {
		return nil, nil, err
	}
	mux.Handle(conf.Server.CGIPath, gw)
	return mux, gw, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	mux, gw, err := newServeMux(conf)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           accessLog(mux, log.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Printf("[tupi-envdump] listening on %s, page at %s", conf.Server.Addr, conf.Server.PagePath)
	if gw != nil {
		log.Printf("[tupi-envdump] serving %s at %s", conf.Gateway.Dir, conf.Server.CGIPath)
	}

	select {
	case err := <-errc:
		return errors.Wrap(err, "listening")
	case <-ctx.Done():
	}

	log.Println("[tupi-envdump] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down")
	}
	if gw != nil {
		s := gw.Stats()
		log.Printf("[tupi-envdump] scripts served: %d, rejected: %d, failed: %d",
			s.Served, s.Rejected, s.Failed)
	}
	return nil
}
