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
	"fmt"
	"os"

	"github.com/jucacrispim/tupi-envdump/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const outputFlag = "output"

func initConfigCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as yaml",
		RunE:  printConfig,
	}
	cmd.Flags().StringP(outputFlag, "o", "", "Write the config to this file instead of stdout")
	return cmd
}

func printConfig(cmd *cobra.Command, _ []string) error {
	out, err := config.Dump(v)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString(outputFlag)
	if path == "" {
		_, err := cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errors.Wrapf(err, "could not write config to %s", path)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to: %s\n", path)
	return nil
}
