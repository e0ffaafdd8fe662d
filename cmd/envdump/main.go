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
	"net/http/cgi"
	"os"

	"github.com/jucacrispim/tupi-envdump/internal/config"
	"github.com/jucacrispim/tupi-envdump/internal/diag"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       *viper.Viper
	conf    *config.Config
	rootCmd = &cobra.Command{
		Use:   "envdump",
		Short: "Show the environment and form data of a CGI request",
		Long: `envdump is a diagnostic CGI program. Invoked by a web server through
the Common Gateway Interface it answers with an html page listing the
environment variables it got and, for POST requests, the submitted form data.

It can also serve the same page itself, over http or FastCGI, and run a
directory of CGI scripts.

Examples:
  envdump                      # run as a CGI script
  envdump serve --gateway.dir ./cgi-bin
  envdump fcgi --fcgi.listen unix:/run/envdump.sock
  envdump config`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		RunE:              runCGI,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./envdump.yaml)")
	addRenderFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(initServeCMD())
	rootCmd.AddCommand(initFCGICMD())
	rootCmd.AddCommand(initConfigCMD())
}

func addRenderFlags(fs *pflag.FlagSet) {
	fs.String("render.title", "", "Title of the page")
	fs.Bool("render.raw", false, "Do not escape the rendered keys and values")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v = config.New(cfgFile)
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	conf = c
	return nil
}

func diagHandler(source diag.Source) diag.Handler {
	return diag.Handler{
		Meta:          source,
		Renderer:      conf.Renderer(),
		MaxFormMemory: conf.Render.MaxFormMemory,
	}
}

// runCGI answers the request described by the process environment.
func runCGI(cmd *cobra.Command, _ []string) error {
	if err := cgi.Serve(diagHandler(diag.Environ)); err != nil {
		return errors.Wrap(err, "[tupi-envdump] not running under a CGI gateway")
	}
	return nil
}

// execute runs the command line. Under a CGI gateway the arguments are the
// words of an indexed query (RFC 3875 4.4), never sub-commands.
func execute() error {
	if os.Getenv("GATEWAY_INTERFACE") != "" {
		rootCmd.SetArgs([]string{})
	}
	return rootCmd.Execute()
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
