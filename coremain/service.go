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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// initialized by "service" sub command
	svc    service.Service
	svcCfg = &service.Config{
		Name:        "tcptune",
		DisplayName: "tcptune",
		Description: "A TCP echo server with tuned sockets",
	}
)

// serverService runs the server role under the system service manager.
type serverService struct {
	f *serverFlags
	m *Tcptune
}

func (ss *serverService) Start(s service.Service) error {
	mlog.L().Info("starting service", zap.String("platform", s.Platform()))
	m, err := NewServer(ss.f)
	if err != nil {
		return err
	}
	ss.m = m
	go func() {
		if err := m.GetSafeClose().WaitClosed(); err != nil {
			m.Logger().Error("server exited", zap.Error(err))
			return
		}
		m.Logger().Info("server exited")
	}()
	return nil
}

func (ss *serverService) Stop(_ service.Service) error {
	if ss.m == nil {
		return nil
	}
	ss.m.Logger().Info("service is shutting down")
	return ss.m.GetSafeClose().CloseWait()
}

// initService will init svc for sub command "service"
func initService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&serverService{f: &sf}, svcCfg)
	if err != nil {
		return fmt.Errorf("cannot init service, %w", err)
	}
	svc = s
	return nil
}

// serviceArgs returns the arguments the service manager starts
// tcptune with. dir defaults to the executable's dir.
func serviceArgs(dir, config string) ([]string, error) {
	if len(dir) > 0 {
		absWd, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("cannot solve absolute working dir path, %w", err)
		}
		dir = absWd
	} else {
		ep, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("cannot solve current executable path, %w", err)
		}
		dir = filepath.Dir(ep)
	}

	args := []string{"--as-service", "-d", dir}
	if len(config) > 0 {
		args = append(args, "-c", config)
	}
	return args, nil
}

func newSvcCmd(use, short string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
}

func newSvcInstallCmd() *cobra.Command {
	c := newSvcCmd("install [-d working_dir] [-c config_file]", "Install tcptune server as a system service.", func() error {
		args, err := serviceArgs(sf.dir, sf.c)
		if err != nil {
			return err
		}
		svcCfg.Arguments = args
		mlog.S().Infof("service arguments: %v", args)
		return svc.Install()
	})
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return newSvcCmd("uninstall", "Uninstall tcptune from system service.", func() error { return svc.Uninstall() })
}

func newSvcStopCmd() *cobra.Command {
	return newSvcCmd("stop", "Stop tcptune system service.", func() error { return svc.Stop() })
}

func newSvcRestartCmd() *cobra.Command {
	return newSvcCmd("restart", "Restart tcptune system service.", func() error { return svc.Restart() })
}

func newSvcStartCmd() *cobra.Command {
	return newSvcCmd("start", "Start tcptune system service.", func() error {
		if err := svc.Start(); err != nil {
			return err
		}
		mlog.S().Info("service is starting")
		time.Sleep(time.Second)
		s, err := svc.Status()
		if err != nil {
			mlog.S().Warnf("cannot get service status, %v", err)
			return nil
		}
		switch s {
		case service.StatusRunning:
			mlog.S().Info("service is running")
		case service.StatusStopped:
			mlog.S().Error("service is stopped, check tcptune and system service log for more info")
		default:
			mlog.S().Warn("cannot get service status, system may not support this operation")
		}
		return nil
	})
}

func newSvcStatusCmd() *cobra.Command {
	return newSvcCmd("status", "Status of tcptune system service.", func() error {
		s, err := svc.Status()
		if err != nil {
			return fmt.Errorf("cannot get service status, %w", err)
		}
		fmt.Println(statusString(s))
		return nil
	})
}

func statusString(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
