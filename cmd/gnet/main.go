// Command gnet runs the RESP server on gnet event loops. Fast
// commands execute inline on the loop; commands that walk the whole
// keyspace are handed to a worker pool so one KEYS over a large store
// cannot stall every connection sharing that loop.
package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/valkrau/shardmap/internal/config"
	"github.com/valkrau/shardmap/internal/resp"
	"github.com/valkrau/shardmap/internal/server"
	"github.com/valkrau/shardmap/internal/store"
)

const (
	maxRepliesBeforeFlush = 4096
	maxBytesBeforeFlush   = 64 * 1024
)

type session struct {
	args    []string
	out     []byte
	replies int
	closing bool

	// asyncBusy is true while a pool worker owns the reply stream.
	// Only the event loop touches it; parsing stays paused until the
	// worker's reply lands and Wake re-enters OnTraffic.
	asyncBusy bool
}

type engine struct {
	gnet.BuiltinEventEngine
	h    *server.Handler
	pool *ants.Pool
	log  *zap.Logger
}

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

	pool, err := ants.NewPool(runtime.NumCPU(), ants.WithNonblocking(true))
	if err != nil {
		logger.Fatal("worker pool", zap.Error(err))
	}
	defer pool.Release()

	eng := &engine{
		h:    server.NewHandler(st, logger),
		pool: pool,
		log:  logger,
	}

	proto := cfg.Addr
	if !strings.Contains(proto, "://") {
		proto = "tcp://" + proto
	}

	logger.Info("event loop listening",
		zap.String("addr", proto),
		zap.Bool("multicore", cfg.Multicore))

	if err := gnet.Run(eng, proto,
		gnet.WithMulticore(cfg.Multicore),
		gnet.WithLogger(logger.Sugar()),
	); err != nil {
		logger.Fatal("gnet run failed", zap.Error(err))
	}
}

func (e *engine) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	c.SetContext(&session{
		args: make([]string, 0, 8),
		out:  make([]byte, 0, 64*1024),
	})
	return nil, gnet.None
}

func (e *engine) OnTraffic(c gnet.Conn) gnet.Action {
	sess := c.Context().(*session)
	if sess.asyncBusy {
		return gnet.None
	}

	for {
		n := c.InboundBuffered()
		if n == 0 {
			break
		}
		buf, err := c.Peek(n)
		if err != nil {
			break
		}

		consumed, ok, perr := resp.ParseCommand(buf, &sess.args)
		if perr != nil {
			sess.out = resp.AppendError(sess.out, "ERR protocol error: "+perr.Error())
			e.flush(c, sess)
			e.log.Debug("protocol error", zap.Error(perr))
			return gnet.Close
		}
		if !ok {
			break
		}

		if len(sess.args) > 0 && server.SlowCommand(sess.args[0]) {
			// Parsed strings alias the inbound buffer and die on
			// Discard, so the worker gets its own copy.
			cmd := cloneArgs(sess.args)
			_, _ = c.Discard(consumed)
			e.flush(c, sess)
			sess.asyncBusy = true
			if err := e.pool.Submit(func() { e.runSlow(c, cmd) }); err == nil {
				return gnet.None
			}
			// Pool saturated; run on the loop rather than drop it.
			sess.asyncBusy = false
			sess.out, _ = e.h.Execute(sess.out, cmd)
			sess.replies++
		} else {
			var closeAfter bool
			sess.out, closeAfter = e.h.Execute(sess.out, sess.args)
			sess.replies++
			_, _ = c.Discard(consumed)
			if closeAfter {
				sess.closing = true
			}
		}

		if sess.closing || len(sess.out) >= maxBytesBeforeFlush || sess.replies >= maxRepliesBeforeFlush {
			e.flush(c, sess)
			if sess.closing {
				return gnet.Close
			}
		}
	}

	e.flush(c, sess)
	return gnet.None
}

// runSlow executes one command on a pool worker and ships the reply
// back through the loop. It runs off the event loop and must not
// touch the session.
func (e *engine) runSlow(c gnet.Conn, args []string) {
	bb := bytebufferpool.Get()
	bb.B, _ = e.h.Execute(bb.B, args)
	err := c.AsyncWrite(bb.B, func(c gnet.Conn, err error) error {
		bytebufferpool.Put(bb)
		if sess, ok := c.Context().(*session); ok {
			sess.asyncBusy = false
		}
		if err != nil {
			return nil
		}
		return c.Wake(nil)
	})
	if err != nil {
		// The callback never ran and never will.
		bytebufferpool.Put(bb)
	}
}

func (e *engine) flush(c gnet.Conn, sess *session) {
	if len(sess.out) == 0 {
		return
	}
	_, _ = c.Write(sess.out)
	sess.out = sess.out[:0]
	sess.replies = 0
}

func cloneArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.Clone(a)
	}
	return out
}
