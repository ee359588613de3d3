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
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bizflycloud/mqttcd/pkg/config"
	"github.com/bizflycloud/mqttcd/pkg/session"
)

const statusRequestTimeout = 5 * time.Second

var statusHeaders = []string{"State", "Topic", "Since", "Received", "Bytes", "Dispatched", "Dropped", "Decode Errors", "Launch Errors", "Pings", "Running Handlers", "Version"}

type statusReply struct {
	session.Status
	Since   string `json:"since"`
	Version string `json:"version"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running daemon.",
	Long:  "Query the status server of a daemon started with --status_addr.",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString(config.KeyStatusAddr)
		if addr == "" {
			return &usageError{err: errors.New("status_addr is required")}
		}
		st, err := fetchStatus(cmd.Context(), addr)
		if err != nil {
			return err
		}
		formatter.Output(statusHeaders, [][]string{statusRow(st)})
		return nil
	},
}

func statusClient(addr string) (*http.Client, string) {
	if !strings.HasPrefix(addr, "unix://") {
		return &http.Client{Timeout: statusRequestTimeout}, "http://" + addr
	}
	sock := strings.TrimPrefix(addr, "unix://")
	return &http.Client{
		Timeout: statusRequestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
		},
	}, "http://unix"
}

func fetchStatus(ctx context.Context, addr string) (statusReply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	httpc, base := statusClient(addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/status", nil)
	if err != nil {
		return statusReply{}, err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return statusReply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusReply{}, fmt.Errorf("status server replied %s", resp.Status)
	}
	var st statusReply
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return statusReply{}, err
	}
	return st, nil
}

func statusRow(st statusReply) []string {
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }
	return []string{
		string(st.State),
		st.Topic,
		st.Since,
		itoa(st.Received),
		humanize.Bytes(uint64(st.Bytes)),
		itoa(st.Dispatched),
		itoa(st.Dropped),
		itoa(st.DecodeErrors),
		itoa(st.LaunchErrors),
		itoa(st.Pings),
		itoa(st.RunningHandlers),
		st.Version,
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
