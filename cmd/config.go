// This file is part of mqttcd
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/mqttcd/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration.",
	Long:  "Print the configuration resolved from flags, environment and config file, with the password masked.",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return &usageError{err: err}
		}
		return dumpConfig(cmd, cfg)
	},
}

func dumpConfig(cmd *cobra.Command, cfg config.Config) error {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func init() {
	rootCmd.AddCommand(configCmd)
}
