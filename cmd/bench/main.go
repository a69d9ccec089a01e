// Command bench drives a running server with SET and GET traffic and
// prints throughput plus a latency profile. Point it at either server
// binary; it only needs the wire protocol.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valkrau/shardmap/bench"
)

type options struct {
	addr      string
	ops       int
	clients   int
	pipeline  int
	valueSize int
	preload   int
}

type report struct {
	name     string
	ops      int64
	errors   int64
	duration time.Duration
	lat      []time.Duration
}

func main() {
	addr := flag.String("addr", "localhost:6379", "server address")
	ops := flag.Int("ops", 1_000_000, "total operations per run")
	clients := flag.Int("clients", 10, "concurrent client connections")
	pipeline := flag.Int("pipeline", 100, "commands per pipeline batch (1 disables pipelining)")
	valueSize := flag.Int("value-size", 64, "value payload size in bytes")
	preload := flag.Int("preload", 10_000, "keys written before the GET runs")
	kind := flag.String("kind", "both", "workload: set, get or both")
	startDelay := flag.Duration("start-delay", 0, "sleep before starting (time to attach a profiler)")
	flag.Parse()

	opts := options{
		addr:      *addr,
		ops:       *ops,
		clients:   *clients,
		pipeline:  *pipeline,
		valueSize: *valueSize,
		preload:   *preload,
	}
	if opts.clients < 1 || opts.pipeline < 1 || opts.ops < 1 {
		fmt.Fprintln(os.Stderr, "ops, clients and pipeline must be positive")
		os.Exit(1)
	}

	if *startDelay > 0 {
		fmt.Printf("starting in %v...\n", *startDelay)
		time.Sleep(*startDelay)
	}

	runSet := *kind == "set" || *kind == "both"
	runGet := *kind == "get" || *kind == "both"
	if !runSet && !runGet {
		fmt.Fprintf(os.Stderr, "unknown workload %q\n", *kind)
		os.Exit(1)
	}

	if runGet {
		if err := preloadKeys(opts); err != nil {
			fmt.Fprintln(os.Stderr, "preload:", err)
			os.Exit(1)
		}
	}

	if runSet {
		rep, err := run("SET", opts, setBatch)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			os.Exit(1)
		}
		rep.print()
	}
	if runGet {
		rep, err := run("GET", opts, getBatch)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			os.Exit(1)
		}
		rep.print()
	}
}

// batchFunc queues one batch of commands starting at key index base.
type batchFunc func(c *bench.Client, opts options, base, n int)

func setBatch(c *bench.Client, opts options, base, n int) {
	value := strings.Repeat("v", opts.valueSize)
	for j := 0; j < n; j++ {
		c.Queue("SET", fmt.Sprintf("bench:key:%d", base+j), value)
	}
}

func getBatch(c *bench.Client, opts options, base, n int) {
	for j := 0; j < n; j++ {
		c.Queue("GET", fmt.Sprintf("bench:key:%d", (base+j)%opts.preload))
	}
}

func preloadKeys(opts options) error {
	c, err := bench.Dial(opts.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	value := strings.Repeat("v", opts.valueSize)
	const batch = 512
	for i := 0; i < opts.preload; i += batch {
		n := batch
		if rest := opts.preload - i; n > rest {
			n = rest
		}
		for j := 0; j < n; j++ {
			c.Queue("SET", fmt.Sprintf("bench:key:%d", i+j), value)
		}
		if err := c.Flush(); err != nil {
			return err
		}
		if err := c.ReadReplies(n); err != nil {
			return err
		}
	}
	return nil
}

// run spreads opts.ops over opts.clients workers. Latency is sampled
// per pipeline batch; each worker collects locally and merges once so
// the samples do not serialize the workers.
func run(name string, opts options, fill batchFunc) (report, error) {
	fmt.Printf("\n=== %s (%d ops, %d clients, pipeline %d) ===\n",
		name, opts.ops, opts.clients, opts.pipeline)

	var (
		totalOps  int64
		totalErrs int64
		mu        sync.Mutex
		latencies []time.Duration
	)

	perClient := opts.ops / opts.clients
	if perClient == 0 {
		perClient = 1
	}

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < opts.clients; w++ {
		base := w * perClient
		g.Go(func() error {
			c, err := bench.Dial(opts.addr)
			if err != nil {
				return err
			}
			defer c.Close()

			local := make([]time.Duration, 0, perClient/opts.pipeline+1)
			for done := 0; done < perClient; {
				n := opts.pipeline
				if rest := perClient - done; n > rest {
					n = rest
				}

				batchStart := time.Now()
				fill(c, opts, base+done, n)
				if err := c.Flush(); err != nil {
					atomic.AddInt64(&totalErrs, int64(n))
					return err
				}
				err := c.ReadReplies(n)
				local = append(local, time.Since(batchStart))
				if err != nil {
					atomic.AddInt64(&totalErrs, int64(n))
					return err
				}
				atomic.AddInt64(&totalOps, int64(n))
				done += n
			}

			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	rep := report{
		name:     name,
		ops:      atomic.LoadInt64(&totalOps),
		errors:   atomic.LoadInt64(&totalErrs),
		duration: time.Since(start),
		lat:      latencies,
	}
	return rep, err
}

func (r report) print() {
	sort.Slice(r.lat, func(i, j int) bool { return r.lat[i] < r.lat[j] })

	var sum time.Duration
	for _, d := range r.lat {
		sum += d
	}
	avg := time.Duration(0)
	if len(r.lat) > 0 {
		avg = sum / time.Duration(len(r.lat))
	}

	fmt.Printf("  ops:        %d (%d errors)\n", r.ops, r.errors)
	fmt.Printf("  elapsed:    %v\n", r.duration.Round(time.Millisecond))
	fmt.Printf("  throughput: %.0f ops/sec\n", float64(r.ops)/r.duration.Seconds())
	fmt.Printf("  batch latency: avg %v  p50 %v  p95 %v  p99 %v  max %v\n",
		avg, percentile(r.lat, 50), percentile(r.lat, 95), percentile(r.lat, 99), percentile(r.lat, 100))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
