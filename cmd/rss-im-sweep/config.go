package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/luksan/rss-im-sweep/internal/instrument"
	"github.com/luksan/rss-im-sweep/internal/logging"
)

// options are the process level settings. Each flag falls back to an
// RSSIM_* environment variable.
type options struct {
	settingsPath string
	addr         string
	backend      string
	timeout      time.Duration
	pollInterval time.Duration

	sshHost     string
	sshPort     int
	sshUser     string
	sshPassword string
	sshKey      string

	webAddr      string
	logLevel     string
	logFormat    string
	scpiLogLevel string
}

func bindFlags(fs *pflag.FlagSet, lookup func(string) (string, bool), o *options) {
	fs.StringVar(&o.settingsPath, "settings", envString(lookup, "RSSIM_SETTINGS", "settings.json"), "settings file loaded at start and stored on exit")
	fs.StringVar(&o.addr, "addr", envString(lookup, "RSSIM_ADDR", ""), "analyzer address, overrides the stored zva_address")
	fs.StringVar(&o.backend, "backend", envString(lookup, "RSSIM_BACKEND", "socket"), "instrument backend (socket, ssh, mock)")
	fs.DurationVar(&o.timeout, "timeout", envDuration(lookup, "RSSIM_TIMEOUT", 5*time.Second), "per command timeout")
	fs.DurationVar(&o.pollInterval, "poll-interval", envDuration(lookup, "RSSIM_POLL_INTERVAL", 50*time.Millisecond), "owner loop poll interval")

	fs.StringVar(&o.sshHost, "ssh-host", envString(lookup, "RSSIM_SSH_HOST", ""), "ssh jump host for the ssh backend")
	fs.IntVar(&o.sshPort, "ssh-port", envInt(lookup, "RSSIM_SSH_PORT", 22), "ssh port")
	fs.StringVar(&o.sshUser, "ssh-user", envString(lookup, "RSSIM_SSH_USER", "instrument"), "ssh user")
	fs.StringVar(&o.sshPassword, "ssh-password", envString(lookup, "RSSIM_SSH_PASSWORD", ""), "ssh password")
	fs.StringVar(&o.sshKey, "ssh-key", envString(lookup, "RSSIM_SSH_KEY", ""), "ssh private key file")

	fs.StringVar(&o.webAddr, "web-addr", envString(lookup, "RSSIM_WEB_ADDR", ":8080"), "status web server address, empty to disable")
	fs.StringVar(&o.logLevel, "log-level", envString(lookup, "RSSIM_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", envString(lookup, "RSSIM_LOG_FORMAT", "text"), "log format (text, json)")
	fs.StringVar(&o.scpiLogLevel, "scpi-log-level", envString(lookup, "RSSIM_SCPI_LOG_LEVEL", "warn"), "minimum level for raw instrument I/O logging")
}

func (o *options) logger(out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(o.logFormat)
	if err != nil {
		return nil, err
	}
	scpi, err := logging.ParseLevel(o.scpiLogLevel)
	if err != nil {
		return nil, fmt.Errorf("scpi log level: %w", err)
	}
	return logging.New(level, format, out, logging.WithSubsystemLevel("scpi", scpi)), nil
}

// dialer returns the instrument backend and a cleanup function.
func (o *options) dialer(logger logging.Logger) (instrument.Dialer, func() error, error) {
	noop := func() error { return nil }
	switch o.backend {
	case "socket":
		return instrument.SocketDialer{Timeout: o.timeout, Logger: logger}, noop, nil
	case "mock":
		return instrument.NewMock(), noop, nil
	case "ssh":
		d, err := instrument.NewSSHDialer(instrument.SSHConfig{
			Host:     o.sshHost,
			Port:     o.sshPort,
			User:     o.sshUser,
			Password: o.sshPassword,
			KeyPath:  o.sshKey,
		})
		if err != nil {
			return nil, nil, err
		}
		d.Timeout = o.timeout
		d.Logger = logger
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %s", o.backend)
	}
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
