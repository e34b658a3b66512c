// Command authflow-loadtest drives the authentication pipeline with seeded
// principals and known devices and reports throughput and latency
// percentiles. By default it runs against an embedded miniredis so no
// external infrastructure is required.
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

	"github.com/vaultik/authflow"
)

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "authentication operations to run")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
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

	store := newMemoryStore()
	fmt.Printf("seeding %d principals...\n", *principals)
	startSeed := time.Now()
	for i := 0; i < *principals; i++ {
		id := fmt.Sprintf("u-%d", i)
		store.seed(&authflow.Principal{
			ID:            id,
			Email:         fmt.Sprintf("user-%d@example.com", i),
			SecurityStamp: "stamp",
			CreatedAt:     time.Now().UTC().Add(-24 * time.Hour),
		}, &authflow.Device{
			ID:          fmt.Sprintf("d-%d", i),
			PrincipalID: id,
			Identifier:  fmt.Sprintf("dev-%d", i),
			Name:        "loadtest",
			Type:        authflow.DeviceTypeSDK,
			CreatedAt:   time.Now().UTC().Add(-time.Hour),
		})
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	cfg := authflow.DefaultConfig()
	cfg.BruteForce.FailureDelay = 0
	cfg.Remember.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := authflow.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalProvider(store).
		WithDeviceProvider(store).
		WithOrganizationProvider(store).
		WithMailer(noopMailer{}).
		WithCredentialStrategy(acceptAll{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("running %d ops across %d workers...\n", *ops, *concurrency)

	var (
		wg        sync.WaitGroup
		remaining = int64(*ops)
		failures  atomic.Int64
		latMu     sync.Mutex
		latencies = make([]time.Duration, 0, *ops)
	)

	startRun := time.Now()
	wg.Add(*concurrency)
	for w := 0; w < *concurrency; w++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, 1024)

			for atomic.AddInt64(&remaining, -1) >= 0 {
				i := rng.Intn(*principals)
				req := &authflow.TokenRequest{
					GrantType:  authflow.GrantPassword,
					Email:      fmt.Sprintf("user-%d@example.com", i),
					Credential: "anything",
					Device: authflow.DeviceRequest{
						Identifier: fmt.Sprintf("dev-%d", i),
						Name:       "loadtest",
						Type:       authflow.DeviceTypeSDK,
					},
				}

				opStart := time.Now()
				result, err := engine.Authenticate(ctx, req)
				local = append(local, time.Since(opStart))
				if err != nil || result.Kind != authflow.ResultSuccess {
					failures.Add(1)
				}
			}

			latMu.Lock()
			latencies = append(latencies, local...)
			latMu.Unlock()
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(startRun)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("completed %d ops in %s (%.0f ops/s), %d failures\n",
		len(latencies), elapsed.Round(time.Millisecond),
		float64(len(latencies))/elapsed.Seconds(), failures.Load())
	for _, p := range []float64{0.50, 0.90, 0.99} {
		idx := int(p * float64(len(latencies)-1))
		fmt.Printf("  p%.0f: %s\n", p*100, latencies[idx].Round(time.Microsecond))
	}
	fmt.Printf("engine success counter: %d\n", engine.Metrics().Value(authflow.MetricAuthSuccess))
}

// memoryStore backs all three provider interfaces with in-process maps.
type memoryStore struct {
	mu         sync.RWMutex
	principals map[string]*authflow.Principal
	devices    map[string]*authflow.Device
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		principals: map[string]*authflow.Principal{},
		devices:    map[string]*authflow.Device{},
	}
}

func (s *memoryStore) seed(p *authflow.Principal, d *authflow.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.Email] = p
	s.devices[d.PrincipalID+"|"+d.Identifier] = d
}

func (s *memoryStore) GetByEmail(_ context.Context, email string) (*authflow.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[email]
	if !ok {
		return nil, authflow.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) Update(_ context.Context, p *authflow.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.Email] = &cp
	return nil
}

func (s *memoryStore) GetByIdentifier(_ context.Context, principalID, identifier string) (*authflow.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[principalID+"|"+identifier]
	if !ok {
		return nil, authflow.ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memoryStore) Save(_ context.Context, d *authflow.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.devices[d.PrincipalID+"|"+d.Identifier] = &cp
	return nil
}

func (s *memoryStore) GetMemberships(context.Context, string) ([]authflow.OrganizationMembership, error) {
	return nil, nil
}

func (s *memoryStore) GetOrganization(context.Context, string) (*authflow.Organization, error) {
	return nil, authflow.ErrOrganizationUnavailable
}

type acceptAll struct{}

func (acceptAll) GrantType() authflow.GrantType { return authflow.GrantPassword }

func (acceptAll) Verify(context.Context, *authflow.Principal, *authflow.TokenRequest) (bool, error) {
	return true, nil
}

type noopMailer struct{}

func (noopMailer) SendNewDeviceLoggedIn(context.Context, string, *authflow.Device, time.Time) error {
	return nil
}
func (noopMailer) SendFailedLoginAttempts(context.Context, string, time.Time) error    { return nil }
func (noopMailer) SendFailedTwoFactorAttempts(context.Context, string, time.Time) error { return nil }
func (noopMailer) SendTwoFactorCode(context.Context, string, string) error              { return nil }
