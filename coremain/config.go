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
	"errors"
	"fmt"
	"strings"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/client"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/server"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "TCPTUNE"

type Config struct {
	Log    mlog.LogConfig `yaml:"log"`
	Tuning TuningConfig   `yaml:"tuning"`
	Server ServerConfig   `yaml:"server"`
	Client ClientConfig   `yaml:"client"`
	API    APIConfig      `yaml:"api"`
}

// TuningConfig is applied to every connection of both roles.
type TuningConfig struct {
	NoDelay         bool `yaml:"no_delay"`
	SendBuffer      int  `yaml:"send_buffer"`      // bytes, 0 keeps the os default.
	RecvBuffer      int  `yaml:"recv_buffer"`      // bytes, 0 keeps the os default.
	KeepAlive       bool `yaml:"keepalive"`
	KeepAlivePeriod uint `yaml:"keepalive_period"` // (sec) 0 keeps the os default.
	Linger          int  `yaml:"linger"`           // (sec) 0 keeps it unset.
}

func (c *TuningConfig) Options() sockopt.Options {
	return sockopt.Options{
		NoDelay:         c.NoDelay,
		SendBuffer:      c.SendBuffer,
		RecvBuffer:      c.RecvBuffer,
		KeepAlive:       c.KeepAlive,
		KeepAlivePeriod: utils.Seconds(c.KeepAlivePeriod),
		Linger:          c.Linger,
	}
}

type ServerConfig struct {
	// Listen: server "host:port" addr.
	Listen string `yaml:"listen"`

	// MaxConns: max connections being served. Negative means no limit.
	MaxConns int `yaml:"max_conns"`

	IdleTimeout   uint    `yaml:"idle_timeout"` // (sec) 0 means no timeout.
	Framing       string  `yaml:"framing"`      // "raw" or "line"
	ConnRate      float64 `yaml:"conn_rate"`    // new conns per sec per client ip. 0 means no limit.
	ConnBurst     int     `yaml:"conn_burst"`
	ProxyProtocol bool    `yaml:"proxy_protocol"`
	ReuseAddr     bool    `yaml:"reuse_addr"`
}

type ClientConfig struct {
	// Addr: server "host:port" addr.
	Addr        string `yaml:"addr"`
	Count       int    `yaml:"count"`
	Interval    uint   `yaml:"interval"`     // (ms)
	Framing     string `yaml:"framing"`      // "raw" or "line"
	DialTimeout uint   `yaml:"dial_timeout"` // (sec) 0 means no timeout.
	IOTimeout   uint   `yaml:"io_timeout"`   // (sec) per message. 0 means no timeout.
}

type APIConfig struct {
	// HTTP: api server "host:port" addr. Empty disables the api server.
	HTTP string `yaml:"http"`
}

// DefaultConfig returns the config used when no config file is given.
func DefaultConfig() *Config {
	o := sockopt.DefaultOptions()
	return &Config{
		Log: mlog.LogConfig{Level: "info"},
		Tuning: TuningConfig{
			NoDelay:    o.NoDelay,
			SendBuffer: o.SendBuffer,
			RecvBuffer: o.RecvBuffer,
			KeepAlive:  o.KeepAlive,
		},
		Server: ServerConfig{
			Listen:    ":8080",
			MaxConns:  server.DefaultMaxConns,
			Framing:   string(echo.FramingRaw),
			ReuseAddr: true,
		},
		Client: ClientConfig{
			Addr:     client.DefaultAddr,
			Count:    client.DefaultCount,
			Interval: uint(client.DefaultInterval.Milliseconds()),
			Framing:  string(echo.FramingRaw),
		},
	}
}

// setDefaults registers DefaultConfig to v, so keys that are missing
// from the config file, and their env overrides, are still decoded.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]any{
		"log.level":               d.Log.Level,
		"log.file":                d.Log.File,
		"log.production":          d.Log.Production,
		"tuning.no_delay":         d.Tuning.NoDelay,
		"tuning.send_buffer":      d.Tuning.SendBuffer,
		"tuning.recv_buffer":      d.Tuning.RecvBuffer,
		"tuning.keepalive":        d.Tuning.KeepAlive,
		"tuning.keepalive_period": d.Tuning.KeepAlivePeriod,
		"tuning.linger":           d.Tuning.Linger,
		"server.listen":           d.Server.Listen,
		"server.max_conns":        d.Server.MaxConns,
		"server.idle_timeout":     d.Server.IdleTimeout,
		"server.framing":          d.Server.Framing,
		"server.conn_rate":        d.Server.ConnRate,
		"server.conn_burst":       d.Server.ConnBurst,
		"server.proxy_protocol":   d.Server.ProxyProtocol,
		"server.reuse_addr":       d.Server.ReuseAddr,
		"client.addr":             d.Client.Addr,
		"client.count":            d.Client.Count,
		"client.interval":         d.Client.Interval,
		"client.framing":          d.Client.Framing,
		"client.dial_timeout":     d.Client.DialTimeout,
		"client.io_timeout":       d.Client.IOTimeout,
		"api.http":                d.API.HTTP,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

func decoderOpt(cfg *mapstructure.DecoderConfig) {
	cfg.ErrorUnused = true
	cfg.TagName = "yaml"
	cfg.WeaklyTypedInput = true
}

// loadConfig reads the config file at path. If path is empty, it looks
// for "config.*" in the working dir and falls back to the defaults if
// none is found. It returns the config and the file used, if any.
func loadConfig(path string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(path) > 0 {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(path) > 0 || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

const maxBufferSize = 64 << 20

func (c *Config) validate() error {
	if !utils.CheckNumRange(c.Tuning.SendBuffer, 0, maxBufferSize) {
		return fmt.Errorf("tuning.send_buffer %d is out of range [0, %d]", c.Tuning.SendBuffer, maxBufferSize)
	}
	if !utils.CheckNumRange(c.Tuning.RecvBuffer, 0, maxBufferSize) {
		return fmt.Errorf("tuning.recv_buffer %d is out of range [0, %d]", c.Tuning.RecvBuffer, maxBufferSize)
	}
	if _, err := echo.ParseFraming(c.Server.Framing); err != nil {
		return fmt.Errorf("server.framing: %w", err)
	}
	if _, err := echo.ParseFraming(c.Client.Framing); err != nil {
		return fmt.Errorf("client.framing: %w", err)
	}
	if c.Client.Count < 0 {
		return fmt.Errorf("client.count cannot be negative")
	}
	if c.Server.ConnRate < 0 {
		return fmt.Errorf("server.conn_rate cannot be negative")
	}
	if len(c.Server.Listen) == 0 {
		return errors.New("server.listen is empty")
	}
	return nil
}
