// Command server runs the goroutine-per-connection RESP server. Each
// accepted connection gets its own goroutine; the event-loop variant
// lives in cmd/gnet.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/valkrau/shardmap/internal/config"
	"github.com/valkrau/shardmap/internal/server"
	"github.com/valkrau/shardmap/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	pprofAddr := flag.String("pprof", "", "pprof listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *pprofAddr != "" {
		cfg.PprofAddr = *pprofAddr
	}

	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.GCPercent != 0 {
		debug.SetGCPercent(cfg.GCPercent)
	}

	if cfg.PprofAddr != "" {
		go func() {
			logger.Info("pprof listening", zap.String("addr", cfg.PprofAddr))
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				logger.Warn("pprof server stopped", zap.Error(err))
			}
		}()
	}

	st := store.New(store.Options{
		Shards:           cfg.Store.Shards,
		Capacity:         cfg.Store.Capacity,
		JanitorInterval:  cfg.Store.JanitorInterval.Std(),
		JanitorScanLimit: cfg.Store.JanitorScanLimit,
	})
	defer st.Close()

	h := server.NewHandler(st, logger)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	defer ln.Close()

	logger.Info("server listening",
		zap.String("addr", cfg.Addr),
		zap.Int("shards", len(st.ShardSizes())))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go server.ServeConn(conn, h, logger)
	}
}
