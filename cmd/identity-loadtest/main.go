package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	identity "github.com/loginbox/identity"
	"github.com/loginbox/identity/authtoken"
	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/internal/random"
	"github.com/loginbox/identity/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type seeded struct {
	accountID string
	token     string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		accounts    = flag.Int("accounts", 1000, "number of accounts the sessions are spread over")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
		prefix      = flag.String("prefix", "lbs", "session key prefix")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	if *sessions <= 0 || *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		logger.Error("sessions, accounts, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal("start miniredis", zap.Error(err))
		}
		defer mr.Close()
		addr = mr.Addr()
		logger.Info("using miniredis", zap.String("addr", addr))
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer func() { _ = client.Close() }()

	cfg := identity.DefaultConfig()
	cfg.Session.Prefix = *prefix
	cfg.RateLimit.Enabled = false

	store := session.NewStore(client, cfg.Session.Config, nil)
	engine, err := identity.New().
		WithConfig(cfg).
		WithRedis(client).
		WithSessionStore(store).
		WithRepository(directory.NewMemoryRepository()).
		Build()
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	seedStart := time.Now()
	states, err := seed(ctx, store, *sessions, *accounts)
	if err != nil {
		logger.Fatal("seed", zap.Error(err))
	}
	logger.Info("seeded",
		zap.Int("sessions", *sessions),
		zap.Int("accounts", *accounts),
		zap.Duration("took", time.Since(seedStart).Round(time.Millisecond)),
	)

	caller := identity.ClientInfo{IP: "127.0.0.1", UserAgent: "identity-loadtest"}
	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		s := states[r.Intn(len(states))]
		ok, err := engine.Identity(caller, s.token).Validate(ctx, false)
		if err != nil {
			return err
		}
		if !ok {
			return errInvalid
		}
		return nil
	})
	listStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := store.ListActive(ctx, states[r.Intn(len(states))].accountID)
		return err
	})

	printStats(os.Stdout, "validate", validateStats)
	printStats(os.Stdout, "list", listStats)
}

var errInvalid = errors.New("token did not validate")

func seed(ctx context.Context, store *session.Store, sessions, accounts int) ([]seeded, error) {
	codec := authtoken.New()
	out := make([]seeded, sessions)
	for i := 0; i < sessions; i++ {
		salt, err := random.NewSalt()
		if err != nil {
			return nil, err
		}
		accountID := fmt.Sprintf("acc-%d", i%accounts)
		sid, err := store.Create(ctx, session.NewSession{
			Salt:       salt,
			AccountID:  accountID,
			RememberMe: i%2 == 0,
			IP:         "127.0.0.1",
		})
		if err != nil {
			return nil, err
		}
		token, err := codec.Generate(authtoken.Payload{Acc: accountID, SSID: sid}, salt)
		if err != nil {
			return nil, err
		}
		out[i] = seeded{accountID: accountID, token: token}
	}
	return out, nil
}

// runPhase spreads ops calls of op over concurrency workers. Each worker keeps
// its own latency slice; they are merged once all workers finish.
func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		next      atomic.Int64
		failures  atomic.Int64
		perWorker = make([][]time.Duration, concurrency)
	)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(start.UnixNano() + int64(w)))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for next.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			perWorker[w] = local
		}()
	}
	wg.Wait()
	total := time.Since(start)

	samples := make([]time.Duration, 0, ops)
	for _, l := range perWorker {
		samples = append(samples, l...)
	}
	return computeStats(total, samples, failures.Load())
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

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
