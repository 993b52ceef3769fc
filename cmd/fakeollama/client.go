package main

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"

	"github.com/kalambet/fakeollama/internal/config"
	"github.com/kalambet/fakeollama/internal/ollama"
)

// newNativeClient builds a client for the gateway described by the loaded
// config, honoring an explicit --addr flag.
var newNativeClient = func(fs *pflag.FlagSet) (*ollama.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	addr := cfg.Server.Addr
	if fs.Changed("addr") {
		addr, _ = fs.GetString("addr")
	}
	return ollama.New(clientBaseURL(addr), cfg.Server.Token), nil
}

// clientBaseURL turns a listen address into a URL a local client can dial.
// Wildcard and empty hosts map to loopback.
func clientBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
