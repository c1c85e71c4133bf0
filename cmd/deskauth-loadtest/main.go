// Command deskauth-loadtest drives the engine against Redis (or an embedded
// miniredis) and reports latency and contention outcomes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/deskauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "load-test-password"

// staticUsers accepts loadPassword for any email. Hashing is left out so the
// numbers reflect the store round trips.
type staticUsers struct{}

func (staticUsers) GetUser(_ context.Context, email, password string) (deskauth.User, error) {
	if password != loadPassword {
		return deskauth.User{}, deskauth.ErrInvalidCredentials
	}
	return deskauth.User{ID: "id-" + email, Email: email, Role: "agent"}, nil
}

func (staticUsers) GetByID(_ context.Context, userID string) (deskauth.User, error) {
	return deskauth.User{ID: userID, Role: "agent"}, nil
}

type sessionState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + refresh)")
		attackers   = flag.Int("attackers", 64, "concurrent wrong-password logins against one account")
		fanout      = flag.Int("fanout", 16, "concurrent refreshes per token in the contention phase")
		tokens      = flag.Int("tokens", 200, "tokens raced in the contention phase")
		strict      = flag.Bool("strict", true, "use LoginWithLock for the lockout phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *attackers <= 0 || *fanout <= 0 || *tokens <= 0 {
		fmt.Fprintln(os.Stderr, "all counts must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := deskauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789abcdef")
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := deskauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(staticUsers{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		tok, err := engine.Login(ctx, fmt.Sprintf("user-%d@load.test", i), loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = tok.Access.Token
		states[i].refresh = tok.Refresh.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)
	lockout := runLockoutPhase(ctx, engine, *attackers, *strict)
	race := runRefreshRacePhase(ctx, engine, *tokens, *fanout)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("lockout: attempts=%d invalid_credentials=%d account_locked=%d other=%d stored_failures=%d\n",
		*attackers, lockout.invalid, lockout.locked, lockout.other, lockout.stored)
	fmt.Printf("refresh race: tokens=%d fanout=%d successes=%d invalid=%d conflict=%d double_spend=%d\n",
		*tokens, *fanout, race.successes, race.invalid, race.conflict, race.doubleSpend)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: refresh_conflict=%d login_locked=%d backend_errors=%d\n",
		snap.Counters[deskauth.MetricRefreshConflict],
		snap.Counters[deskauth.MetricLoginLocked],
		snap.Counters[deskauth.MetricBackendError],
	)

	if race.doubleSpend > 0 {
		os.Exit(1)
	}
}

func runValidatePhase(ctx context.Context, engine *deskauth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) error {
		_, err := engine.CheckAccessToken(ctx, states[r.Intn(len(states))].access)
		return err
	})
}

func runRefreshPhase(ctx context.Context, engine *deskauth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		tok, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = tok.Access.Token
		state.refresh = tok.Refresh.Token
		return nil
	})
}

// runPhase spreads ops calls of fn over concurrency workers and times each.
func runPhase(ops, concurrency int, seed int64, fn func(r *rand.Rand, i int) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
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

type lockoutResult struct {
	invalid, locked, other int64
	stored                 int
}

// runLockoutPhase fires wrong-password logins at one account all at once.
func runLockoutPhase(ctx context.Context, engine *deskauth.Engine, attackers int, strict bool) lockoutResult {
	const email = "victim@load.test"

	var (
		res   lockoutResult
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for range attackers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			var err error
			if strict {
				_, err = engine.LoginWithLock(ctx, email, "wrong-password")
			} else {
				_, err = engine.Login(ctx, email, "wrong-password")
			}
			switch {
			case errors.Is(err, deskauth.ErrInvalidCredentials):
				atomic.AddInt64(&res.invalid, 1)
			case errors.Is(err, deskauth.ErrAccountLocked):
				atomic.AddInt64(&res.locked, 1)
			default:
				atomic.AddInt64(&res.other, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	res.stored, _ = engine.FailureCount(ctx, email)
	return res
}

type raceResult struct {
	successes, invalid, conflict, doubleSpend int64
}

// runRefreshRacePhase presents each fresh refresh token fanout times at once.
// More than one success for a token is a double spend.
func runRefreshRacePhase(ctx context.Context, engine *deskauth.Engine, tokens, fanout int) raceResult {
	var res raceResult
	for i := range tokens {
		tok, err := engine.Login(ctx, fmt.Sprintf("race-%d@load.test", i), loadPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "race login failed: %v\n", err)
			os.Exit(1)
		}

		var (
			wg    sync.WaitGroup
			wins  int64
			start = make(chan struct{})
		)
		for range fanout {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := engine.Refresh(ctx, tok.Refresh.Token)
				switch {
				case err == nil:
					atomic.AddInt64(&wins, 1)
				case errors.Is(err, deskauth.ErrConflict):
					atomic.AddInt64(&res.conflict, 1)
				default:
					atomic.AddInt64(&res.invalid, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		res.successes += wins
		if wins > 1 {
			res.doubleSpend++
		}
	}
	return res
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
