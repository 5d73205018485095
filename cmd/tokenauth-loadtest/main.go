// Command tokenauth-loadtest measures refresh-token store latency against
// Redis (or an embedded miniredis) with the in-memory durable store behind it.
//
// Phases: load reads live tokens, rotate swaps tokens under contention, and
// rehydrate evicts the fast copy before each read so every lookup falls
// through to the durable store.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aivle-project/tokenauth/internal"
	"github.com/aivle-project/tokenauth/session"
	"github.com/aivle-project/tokenauth/session/memstore"
)

type tokenState struct {
	userID int64
	token  string
	mu     sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of refresh tokens to seed")
		users       = flag.Int("users", 5000, "number of distinct users owning the tokens")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		refreshTTL  = flag.Duration("refresh-ttl", 24*time.Hour, "refresh token lifetime")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency, and ops must be > 0")
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

	durable := memstore.New()
	store := session.NewStore(client, durable, *refreshTTL)

	var rehydrated atomic.Int64
	store.OnRehydrate(func(*session.Record) { rehydrated.Add(1) })

	states := make([]tokenState, *sessions)
	fmt.Printf("seeding %d tokens for %d users...\n", *sessions, *users)
	startSeed := time.Now()
	for i := range states {
		token, err := internal.NewRefreshToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
			os.Exit(1)
		}
		userID := int64(i%*users) + 1
		device := fmt.Sprintf("device-%d", i / *users)
		if _, err := store.StoreToken(ctx, userID, token, device, "loadtest", "127.0.0.1"); err != nil {
			fmt.Fprintf(os.Stderr, "store failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = tokenState{userID: userID, token: token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loadStats := runPhase(*ops, *concurrency, len(states), func(idx int) error {
		s := &states[idx]
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		_, err := store.LoadValidToken(ctx, token)
		return err
	})

	rotateStats := runPhase(*ops, *concurrency, len(states), func(idx int) error {
		s := &states[idx]
		s.mu.Lock()
		defer s.mu.Unlock()
		next, err := internal.NewRefreshToken()
		if err != nil {
			return err
		}
		if _, err := store.RotateToken(ctx, s.token, next); err != nil {
			return err
		}
		s.token = next
		return nil
	})

	rehydrateStats := runPhase(*ops, *concurrency, len(states), func(idx int) error {
		s := &states[idx]
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if err := client.Del(ctx, session.RefreshKey(token)).Err(); err != nil {
			return err
		}
		_, err := store.LoadValidToken(ctx, token)
		return err
	})

	fmt.Println("---- results ----")
	printStats("load", loadStats)
	printStats("rotate", rotateStats)
	printStats("rehydrate", rehydrateStats)
	fmt.Printf("durable rows=%d rehydrated=%d\n", durable.Len(), rehydrated.Load())
}

// runPhase runs ops calls of op spread over concurrency workers, each call
// against a random state index.
func runPhase(ops, concurrency, n int, op func(idx int) error) phaseStats {
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
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r.Intn(n))
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
		return phaseStats{total: total}
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
	return samples[(len(samples)-1)*p/100]
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
