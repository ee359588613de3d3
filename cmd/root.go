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
	"errors"
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/mqttcd/pkg/config"
	"github.com/bizflycloud/mqttcd/pkg/daemon"
	"github.com/bizflycloud/mqttcd/pkg/handler"
	"github.com/bizflycloud/mqttcd/pkg/support"
)

const envPrefix = "MQTTCD"

var (
	cfgFile string
	debug   bool
	logger  *zap.Logger
)

// rootCmd represents the base command, which runs the daemon.
var rootCmd = &cobra.Command{
	Use:   "mqttcd",
	Short: "Run a program for every message on an MQTT topic.",
	Long: `mqttcd keeps a connection to an MQTT broker, subscribes to one topic and
starts the handler program <handler_dir>/<handler_name> for every message,
passing the topic and payload as arguments.`,
	Args:          usageArgs(cobra.NoArgs),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAgent,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	code := exitCode(err)
	if err != nil {
		if logger != nil {
			logger.Error(err.Error(), zap.Int("exit_code", code))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, "Run 'mqttcd --help' for usage.")
		}
	}
	if logger != nil {
		_ = logger.Sync()
	}
	os.Exit(code)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mqttcd.yaml)")
	pf.BoolVar(&debug, "debug", false, "enable debug (default is false)")
	pf.String(config.KeyLogFile, "", "write logs to this file instead of stderr")

	// Daemon settings are persistent so "mqttcd config" resolves the same values.
	pf.String(config.KeyHost, "", "broker host (required)")
	pf.Int(config.KeyPort, config.DefaultPort, "broker port")
	pf.Int(config.KeyVersion, config.DefaultVersion, "MQTT protocol level, 3 or 4")
	pf.String(config.KeyClientID, "", "client identifier (default is mqttcd/<pid>-<hostname>)")
	pf.String(config.KeyUsername, "", "broker username")
	pf.String(config.KeyPassword, "", "broker password")
	pf.String(config.KeyTopic, "", "topic to subscribe (required)")
	pf.Int(config.KeyQoS, 0, "subscription QoS, 0 or 1")
	pf.Bool(config.KeyDaemonize, false, "detach from the terminal and print the daemon pid")
	pf.String(config.KeyHandler, string(config.HandlerNop), "message handler, nop or string")
	pf.String(config.KeyHandlerDir, config.DefaultHandlerDir, "directory holding handler programs")
	pf.String(config.KeyHandlerName, handler.DefaultName, "handler program name")
	pf.Int(config.KeyMaxHandlers, 0, "maximum concurrently running handlers, 0 is unbounded")
	pf.Duration(config.KeyReceiveTimeout, config.DefaultReceiveTimeout, "how long one receive waits for a packet")
	pf.Int(config.KeyPingThreshold, config.DefaultPingThreshold, "consecutive receive timeouts before a ping is sent")
	pf.Duration(config.KeyKeepAlive, config.DefaultKeepAlive, "keepalive advertised to the broker")
	pf.Int(config.KeyConnectRetries, 0, "dial retries before giving up")
	pf.Int(config.KeyMaxPacketSize, config.DefaultMaxPacketSize, "largest inbound packet in bytes, bigger publishes are dropped, 0 is the protocol limit")
	pf.String(config.KeyStatusAddr, "", "serve status on this address, host:port or unix://path")
	pf.Duration(config.KeyStatsInterval, 0, "log message counters at this interval, 0 disables")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitFailure)
		}

		// Search config in home directory with name ".mqttcd" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".mqttcd")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	configErr := viper.ReadInConfig()

	logFile := viper.GetString(config.KeyLogFile)
	if logFile == "" && daemon.IsChild() {
		// stdio of a detached daemon is /dev/null
		p, err := support.EnsureLogPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitFailure)
		}
		logFile = p
	}

	var err error
	if logger, err = newLogger(debug, logFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
	if configErr == nil {
		logger.Info("Using config file: " + viper.ConfigFileUsed())
	} else if cfgFile != "" {
		logger.Error("Read config file failed", zap.Error(configErr))
		os.Exit(exitUsage)
	}
}

func newLogger(debug bool, logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	}
	return cfg.Build()
}
