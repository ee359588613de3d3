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
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/mqttcd/pkg/broker/mqtt"
	"github.com/bizflycloud/mqttcd/pkg/config"
	"github.com/bizflycloud/mqttcd/pkg/daemon"
	"github.com/bizflycloud/mqttcd/pkg/handler"
	"github.com/bizflycloud/mqttcd/pkg/progress"
	"github.com/bizflycloud/mqttcd/pkg/server"
	"github.com/bizflycloud/mqttcd/pkg/session"
	"github.com/bizflycloud/mqttcd/pkg/shutdown"
)

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return &usageError{err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	if cfg.Daemonize && !daemon.IsChild() {
		pid, err := daemon.Detach()
		if err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), pid)
		return nil
	}

	if cfg.KeepAlive > 0 && cfg.PingInterval() >= cfg.KeepAlive {
		logger.Warn("Ping interval is not shorter than keepalive, the broker may drop the connection",
			zap.Duration("ping_interval", cfg.PingInterval()),
			zap.Duration("keepalive", cfg.KeepAlive))
	}

	sig := shutdown.New()
	stop := shutdown.Notify(sig, logger, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, sig)
	if err != nil {
		return err
	}
	if cfg.StatsInterval > 0 {
		p := newStatsReporter(cfg.StatsInterval, s)
		p.Start()
		defer p.Done()
	}
	return serve(cmd.Context(), cfg, s, sig)
}

func newStatsReporter(d time.Duration, s *session.Session) *progress.Progress {
	p := progress.NewProgress(d, func() progress.Stat {
		st := s.Status()
		return progress.Stat{
			Messages:   uint64(st.Received),
			Dispatched: uint64(st.Dispatched),
			Dropped:    uint64(st.Dropped),
			Errors:     uint64(st.DecodeErrors + st.LaunchErrors),
			Bytes:      uint64(st.Bytes),
		}
	})
	p.OnUpdate = func(total, delta progress.Stat, runtime time.Duration) {
		logger.Info("Session stats",
			zap.Stringer("total", total),
			zap.Uint64("messages_since_last", delta.Messages),
			zap.Duration("uptime", runtime.Round(time.Second)))
	}
	p.OnDone = func(total, _ progress.Stat, runtime time.Duration) {
		logger.Info("Session finished", zap.Stringer("total", total), zap.Duration("uptime", runtime.Round(time.Second)))
	}
	return p
}

func newSession(cfg config.Config, sig *shutdown.Signal) (*session.Session, error) {
	t, err := mqtt.NewTransport(
		mqtt.WithAddress(cfg.Host, cfg.Port),
		mqtt.WithClientID(cfg.ClientID),
		mqtt.WithCredentials(cfg.Username, cfg.Password),
		mqtt.WithProtocolVersion(byte(cfg.Version)),
		mqtt.WithKeepAlive(cfg.KeepAlive),
		mqtt.WithConnectRetries(cfg.ConnectRetries),
		mqtt.WithMaxPacketSize(cfg.MaxPacketSize),
		mqtt.WithLogger(logger),
	)
	if err != nil {
		return nil, &usageError{err: err}
	}

	opts := []session.Option{
		session.WithDecoder(mqtt.DecodePublish),
		session.WithSignal(sig),
		session.WithLogger(logger),
	}
	if cfg.HandlerEnabled() {
		h, err := handler.New(
			handler.WithDir(cfg.HandlerDir),
			handler.WithName(cfg.HandlerName),
			handler.WithMaxConcurrent(cfg.MaxHandlers),
			handler.WithLogger(logger),
		)
		if err != nil {
			return nil, &usageError{err: err}
		}
		logger.Info("Handler configured", zap.String("path", h.Path()))
		opts = append(opts, session.WithLauncher(h))
	}
	return session.New(cfg, t, opts...)
}

// serve runs the session and, when configured, the status server until the
// session ends.
func serve(ctx context.Context, cfg config.Config, s *session.Session, sig *shutdown.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer sig.Trigger()
		return s.Run(gctx)
	})

	if cfg.StatusAddr != "" {
		srv, err := server.New(
			server.WithAddr(cfg.StatusAddr),
			server.WithStatusProvider(s),
			server.WithLogger(logger),
		)
		if err != nil {
			sig.Trigger()
			_ = g.Wait()
			return &usageError{err: err}
		}
		logger.Debug("Listening address: " + cfg.StatusAddr)

		srvCtx, cancel := context.WithCancel(context.Background())
		g.Go(func() error {
			<-sig.Done()
			cancel()
			return nil
		})
		g.Go(func() error {
			defer cancel()
			if err := srv.Run(srvCtx); err != nil {
				logger.Error("Status server failed", zap.Error(err))
				sig.Trigger()
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
