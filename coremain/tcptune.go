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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/safe_close"
	"github.com/IrineSistiana/tcptune/pkg/server"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = time.Second * 5

// Tcptune is a running server instance with its api server.
type Tcptune struct {
	logger *zap.Logger // non-nil logger.

	server   *server.Server
	listener net.Listener

	httpMux    *chi.Mux
	metricsReg *prometheus.Registry
	sc         *safe_close.SafeClose
}

// NewTcptune binds the echo server and the api server of cfg and starts
// serving. Bind failures are returned, later failures are sent to
// the SafeClose.
func NewTcptune(cfg *Config) (*Tcptune, error) {
	lg, err := mlog.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	m := &Tcptune{
		logger:     lg,
		httpMux:    chi.NewRouter(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}
	// This must be called after m.httpMux and m.metricsReg been set.
	m.initHttpMux()

	if err := m.startServer(&cfg.Server, &cfg.Tuning); err != nil {
		m.sc.SendCloseSignal(err)
		return nil, err
	}

	// Start http api server
	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		httpServer := &http.Server{
			Addr:    httpAddr,
			Handler: m.httpMux,
		}
		m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				m.logger.Info("starting api http server", zap.String("addr", httpAddr))
				errChan <- httpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				m.sc.SendCloseSignal(fmt.Errorf("api http server exited, %w", err))
			case <-closeSignal:
				_ = httpServer.Close()
			}
		})
	}
	return m, nil
}

func (m *Tcptune) startServer(cfg *ServerConfig, tcfg *TuningConfig) error {
	framing, err := echo.ParseFraming(cfg.Framing)
	if err != nil {
		return err
	}

	m.server = server.NewServer(server.ServerOpts{
		Logger:        m.logger,
		Tuner:         sockopt.NewTuner(tcfg.Options()),
		Framing:       framing,
		MaxConns:      cfg.MaxConns,
		IdleTimeout:   utils.Seconds(cfg.IdleTimeout),
		ConnRate:      cfg.ConnRate,
		ConnBurst:     cfg.ConnBurst,
		ProxyProtocol: cfg.ProxyProtocol,
		Metrics:       server.NewMetrics(m.GetMetricsReg()),
	})

	l, err := m.server.Listen(context.Background(), cfg.Listen, sockopt.ListenerOpts{ReuseAddr: cfg.ReuseAddr})
	if err != nil {
		m.server.Close()
		return err
	}
	m.listener = l

	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- m.server.ServeTCP(l)
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(fmt.Errorf("echo server exited, %w", err))
		case <-closeSignal:
			m.logger.Info("starting shutdown sequences")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := m.server.Shutdown(ctx); err != nil {
				m.logger.Warn("connections were not closed in time", zap.Error(err))
			}
			if err := <-errChan; !errors.Is(err, server.ErrServerClosed) {
				m.logger.Warn("echo server exited with unexpected error", zap.Error(err))
			}
			m.logger.Info("echo server closed")
		}
	})
	return nil
}

// GetSafeClose returns the SafeClose that controls m's lifecycle.
func (m *Tcptune) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

// Logger returns a non-nil logger.
func (m *Tcptune) Logger() *zap.Logger {
	return m.logger
}

// Addr returns the echo server listener address.
func (m *Tcptune) Addr() net.Addr {
	return m.listener.Addr()
}

// GetMetricsReg returns a prometheus.Registerer with a prefix of "tcptune_"
func (m *Tcptune) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("tcptune_", m.metricsReg)
}

func (m *Tcptune) GetAPIRouter() *chi.Mux {
	return m.httpMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// initHttpMux initializes api entries. It MUST be called after m.metricsReg being initialized.
func (m *Tcptune) initHttpMux() {
	// Register metrics.
	m.httpMux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))

	// Register pprof.
	m.httpMux.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/*", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
	})

	// A helper page for invalid request.
	invalidApiReqHelper := func(w http.ResponseWriter, req *http.Request) {
		b := new(bytes.Buffer)
		_, _ = fmt.Fprintf(b, "Invalid request %s %s\n\n", req.Method, req.RequestURI)
		b.WriteString("Available api urls:\n")
		_ = chi.Walk(m.httpMux, func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			b.WriteString(method)
			b.WriteByte(' ')
			b.WriteString(route)
			b.WriteByte('\n')
			return nil
		})
		_, _ = w.Write(b.Bytes())
	}
	m.httpMux.NotFound(invalidApiReqHelper)
	m.httpMux.MethodNotAllowed(invalidApiReqHelper)
}
