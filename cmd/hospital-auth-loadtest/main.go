// hospital-auth-loadtest hammers the attempt counters from many goroutines
// and checks that lockout thresholds hold exactly under contention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		identifiers = flag.Int("identifiers", 1000, "number of identifiers attacked")
		attempts    = flag.Int("attempts", 12, "failed attempts per identifier")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "hauth-load", "counter key prefix")
	)
	flag.Parse()

	if *identifiers <= 0 || *attempts <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "identifiers, attempts, and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := counter.NewRedisStore(client, *prefix)
	cfg := governor.DefaultConfig()
	// Each attempt comes from its own address so the IP budget never trips.
	cfg.IPLimit = int64(*identifiers**attempts) + 1
	gov, err := governor.New(store, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "governor: %v\n", err)
		os.Exit(1)
	}

	increments := runIncrementPhase(ctx, store, *identifiers**attempts, *concurrency)
	lockout, accepted := runLockoutPhase(ctx, gov, *identifiers, *attempts, *concurrency)

	fmt.Println("---- results ----")
	printStats("increment", increments)
	printStats("lockout", lockout)

	ok := true
	wantAccepted := int64(cfg.IdentifierLimit - 1)
	if *attempts < int(cfg.IdentifierLimit) {
		wantAccepted = int64(*attempts)
	}
	for id, n := range accepted {
		if n != wantAccepted {
			fmt.Printf("identifier %d: %d attempts passed before lockout, want %d\n", id, n, wantAccepted)
			ok = false
		}
	}
	if increments.failures > 0 || lockout.failures > 0 {
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("lockout thresholds held under contention")
}

// runIncrementPhase increments one shared key ops times and checks the
// final count.
func runIncrementPhase(ctx context.Context, store *counter.RedisStore, ops, concurrency int) phaseStats {
	const key = "load:shared"
	_ = store.Delete(ctx, key)

	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				_, err := store.Increment(ctx, key, time.Hour)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	if n, err := store.Count(ctx, key); err != nil || n != int64(ops)-failures {
		fmt.Printf("shared counter = %d (err %v), want %d\n", n, err, int64(ops)-failures)
		failures++
	}
	return computeStats(total, latencies, failures)
}

// runLockoutPhase records attempts failures for every identifier in
// parallel and returns how many were answered without a lockout verdict.
func runLockoutPhase(ctx context.Context, gov *governor.Governor, identifiers, attempts, concurrency int) (phaseStats, map[int]int64) {
	ops := identifiers * attempts
	accepted := make([]int64, identifiers)

	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				id := i % identifiers
				t0 := time.Now()
				verdict, err := gov.RecordFailure(ctx, governor.Attempt{
					Identifier: fmt.Sprintf("admin-%d@load.test", id),
					IP:         fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff),
				})
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case verdict == nil:
					atomic.AddInt64(&accepted[id], 1)
				case !errors.Is(verdict, failure.ErrAccountLocked):
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	out := make(map[int]int64, identifiers)
	for id, n := range accepted {
		out[id] = n
	}
	return computeStats(total, latencies, failures), out
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
