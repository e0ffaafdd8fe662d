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
	"log"
	"net"
	"net/http/fcgi"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jucacrispim/tupi-envdump/internal/diag"
	"github.com/jucacrispim/tupi-envdump/internal/meta"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func initFCGICMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fcgi",
		Short: "Serve the diagnostic page as a FastCGI responder",
		RunE:  serveFCGI,
	}
	cmd.Flags().String("fcgi.listen", "",
		"unix:/path/to/socket or host:port. Empty uses the socket the web server passes on stdin")
	return cmd
}

// fcgiListener returns nil for an empty address, which makes fcgi.Serve
// accept on stdin.
func fcgiListener(addr string) (net.Listener, error) {
	var l net.Listener
	var err error
	switch {
	case addr == "":
		return nil, nil
	case strings.HasPrefix(addr, "unix:"):
		l, err = net.Listen("unix", strings.TrimPrefix(addr, "unix:"))
	default:
		l, err = net.Listen("tcp", addr)
	}
	return l, errors.Wrapf(err, "listening on %s", addr)
}

func serveFCGI(cmd *cobra.Command, _ []string) error {
	l, err := fcgiListener(conf.FCGI.Listen)
	if err != nil {
		return err
	}
	if l != nil {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			l.Close()
		}()
		log.Printf("[tupi-envdump] FastCGI responder on %s", l.Addr())
	}

	err = fcgi.Serve(l, diagHandler(diag.FastCGI(meta.Options{})))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
