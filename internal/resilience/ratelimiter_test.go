package resilience

import (
	"context"
	"sync"
	"testing"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

func TestRateLimiterManager_Allow(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             2,
	}
	manager := NewRateLimiterManager(config)

	if !manager.Allow(domain.ProviderSykes) {
		t.Error("first call should be allowed")
	}
	if !manager.Allow(domain.ProviderSykes) {
		t.Error("second call should be allowed (burst)")
	}
	if manager.Allow(domain.ProviderSykes) {
		t.Error("third call should be rate limited")
	}
}

func TestRateLimiterManager_PerProviderIsolation(t *testing.T) {
	config := RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             1,
	}
	manager := NewRateLimiterManager(config)

	if !manager.Allow(domain.ProviderSykes) {
		t.Error("sykes first call should be allowed")
	}
	if manager.Allow(domain.ProviderSykes) {
		t.Error("sykes second call should be rate limited")
	}
	if !manager.Allow(domain.ProviderDatakazina) {
		t.Error("datakazina should have its own bucket")
	}
}

func TestRateLimiterManager_ConcurrentAccess(t *testing.T) {
	manager := NewRateLimiterManager(DefaultRateLimiterConfig())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Allow(domain.ProviderSykes)
		}()
	}
	wg.Wait()
}

func TestInMemoryRateLimiter_Headroom(t *testing.T) {
	limiter := NewInMemoryRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 5})
	ctx := context.Background()

	headroom, err := limiter.Headroom(ctx, domain.ProviderSykes)
	if err != nil {
		t.Fatalf("Headroom: %v", err)
	}
	if headroom < 4 {
		t.Errorf("fresh bucket headroom = %v, want >= 4", headroom)
	}

	allowed, err := limiter.Allow(ctx, domain.ProviderSykes)
	if err != nil || !allowed {
		t.Fatalf("Allow = %v, %v", allowed, err)
	}

	after, _ := limiter.Headroom(ctx, domain.ProviderSykes)
	if after >= headroom {
		t.Errorf("headroom should shrink after a call: %v -> %v", headroom, after)
	}
}
