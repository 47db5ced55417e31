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

package coremain

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/client"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootCmd runs the server role. Any invocation that is not a
// sub command, including none, starts the server.
var rootCmd = &cobra.Command{
	Use:   "tcptune",
	Short: "A TCP echo server and client with tuned sockets.",
	Args:  cobra.ArbitraryArgs,
	Run:   StartServer,
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.IntVar(&sf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")
	rootCmd.Flags().BoolVar(&sf.asService, "as-service", false, "start as a service")
	_ = rootCmd.Flags().MarkHidden("as-service")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "client",
		Short: "Run the echo client.",
		Args:  cobra.NoArgs,
		Run:   StartClient,
	})

	serviceCmd := &cobra.Command{
		Use:               "service",
		Short:             "Manage tcptune server as a system service.",
		PersistentPreRunE: initService,
	}
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

type serverFlags struct {
	c         string
	dir       string
	cpu       int
	asService bool
}

var sf = serverFlags{}

// applyFlags applies the process wide flags and loads the config.
func applyFlags(f *serverFlags) (*Config, error) {
	if f.cpu > 0 {
		runtime.GOMAXPROCS(f.cpu)
	}

	if len(f.dir) > 0 {
		if err := os.Chdir(f.dir); err != nil {
			return nil, err
		}
		mlog.L().Info("working directory changed", zap.String("path", f.dir))
	}

	cfg, path, err := loadConfig(f.c)
	if err != nil {
		return nil, err
	}
	if len(path) > 0 {
		mlog.L().Info("config loaded", zap.String("file", path))
	} else {
		mlog.L().Info("no config file found, using defaults")
	}
	return cfg, nil
}

// NewServer loads the config from f and starts a Tcptune instance.
func NewServer(f *serverFlags) (*Tcptune, error) {
	cfg, err := applyFlags(f)
	if err != nil {
		return nil, err
	}
	return NewTcptune(cfg)
}

func StartServer(cmd *cobra.Command, args []string) {
	if sf.asService {
		svc, err := service.New(&serverService{f: &sf}, svcCfg)
		if err != nil {
			mlog.L().Fatal("failed to init service", zap.Error(err))
		}
		if err := svc.Run(); err != nil {
			mlog.L().Fatal("service exited", zap.Error(err))
		}
		return
	}

	m, err := NewServer(&sf)
	if err != nil {
		mlog.L().Fatal("failed to start server", zap.Error(err))
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		s := <-c
		m.Logger().Info("signal received", zap.Stringer("signal", s))
		m.GetSafeClose().SendCloseSignal(nil)
	}()

	if err := m.GetSafeClose().WaitClosed(); err != nil {
		m.Logger().Fatal("server exited", zap.Error(err))
	}
	m.Logger().Info("server exited")
}

func StartClient(cmd *cobra.Command, args []string) {
	cfg, err := applyFlags(&sf)
	if err != nil {
		mlog.L().Fatal("failed to load config", zap.Error(err))
	}
	lg, err := mlog.NewLogger(cfg.Log)
	if err != nil {
		mlog.L().Fatal("failed to init logger", zap.Error(err))
	}

	framing, _ := echo.ParseFraming(cfg.Client.Framing) // validated
	opts := client.Opts{
		Addr:        cfg.Client.Addr,
		Tuner:       sockopt.NewTuner(cfg.Tuning.Options()),
		Framing:     framing,
		Count:       cfg.Client.Count,
		Interval:    utils.Millis(cfg.Client.Interval),
		DialTimeout: utils.Seconds(cfg.Client.DialTimeout),
		IOTimeout:   utils.Seconds(cfg.Client.IOTimeout),
		Logger:      lg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	exs, err := client.Run(ctx, opts)
	if err != nil {
		lg.Fatal("client exited", zap.Error(err))
	}
	failed := 0
	for _, ex := range exs {
		if ex.Err != nil {
			failed++
		}
	}
	lg.Info("session finished", zap.Int("sent", len(exs)), zap.Int("no_reply", failed))
}
