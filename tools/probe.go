/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of tcptune.
 *
 * tcptune is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * tcptune is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/client"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = time.Second * 5

func newSockoptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sockopt [tcp://]server_addr[:port]",
		Args:  cobra.ExactArgs(1),
		Short: "Connect to a server, tune the socket and print the effective options.",
		Run: func(cmd *cobra.Command, args []string) {
			r, err := ProbeSockopt(args[0])
			if err != nil {
				mlog.S().Fatal(err)
			}
			mlog.L().Info("effective socket options", zap.Object("sockopt", r))
		},
		DisableFlagsInUseLine: true,
	}
}

func newConcurrentCmd() *cobra.Command {
	var (
		clients  int
		messages int
	)
	c := &cobra.Command{
		Use:   "concurrent [-n clients] [-m messages] [tcp://]server_addr[:port]",
		Args:  cobra.ExactArgs(1),
		Short: "Check that concurrent clients only receive their own echoes.",
		Run: func(cmd *cobra.Command, args []string) {
			if err := ProbeConcurrent(context.Background(), args[0], clients, messages); err != nil {
				mlog.S().Fatal(err)
			}
			mlog.L().Info("all clients received their own echoes", zap.Int("clients", clients), zap.Int("messages", messages))
		},
		DisableFlagsInUseLine: true,
	}
	c.Flags().IntVarP(&clients, "clients", "n", 10, "number of concurrent clients")
	c.Flags().IntVarP(&messages, "messages", "m", 20, "messages per client")
	return c
}

func probeAddr(addr string) (string, error) {
	protocol, host := utils.SplitSchemeAndHost(addr)
	if len(host) == 0 {
		return "", fmt.Errorf("invalid addr %s", addr)
	}
	if len(protocol) > 0 && protocol != "tcp" {
		return "", fmt.Errorf("invalid protocol %s", protocol)
	}
	return utils.TryAddPort(host, client.DefaultPort), nil
}

// ProbeSockopt dials addr, applies the default tuning and reads it back.
func ProbeSockopt(addr string) (sockopt.Report, error) {
	host, err := probeAddr(addr)
	if err != nil {
		return sockopt.Report{}, err
	}
	c, err := client.Dial(context.Background(), client.Opts{Addr: host, DialTimeout: probeTimeout})
	if err != nil {
		return sockopt.Report{}, err
	}
	defer c.Close()
	defer c.Quit()
	return sockopt.ReadBack(c.Conn())
}

// ProbeConcurrent runs n clients at once. Each sends m distinct messages
// and checks that every reply echoes its own message.
func ProbeConcurrent(ctx context.Context, addr string, n, m int) error {
	if n <= 0 || m <= 0 {
		return fmt.Errorf("clients and messages must be positive, got %d and %d", n, m)
	}
	host, err := probeAddr(addr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			c, err := client.Dial(ctx, client.Opts{Addr: host, DialTimeout: probeTimeout})
			if err != nil {
				return err
			}
			defer c.Close()

			for j := 0; j < m; j++ {
				msg := fmt.Sprintf("client #%d message #%d", i, j)
				c.Conn().SetDeadline(time.Now().Add(probeTimeout))
				r, err := c.Exchange([]byte(msg))
				if err != nil {
					return fmt.Errorf("client #%d: %w", i, err)
				}
				if want := string(echo.AppendReply(nil, []byte(msg))); string(r) != want {
					return fmt.Errorf("client #%d: got reply %q, want %q", i, r, want)
				}
			}
			return c.Quit()
		})
	}
	return g.Wait()
}
