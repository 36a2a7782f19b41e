package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/binarybattles/coderelay/internal/ratelimit"
)

func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         "localhost:1",
		DialTimeout:  10 * time.Millisecond,
		ReadTimeout:  10 * time.Millisecond,
		WriteTimeout: 10 * time.Millisecond,
		MaxRetries:   0,
	})
}

func TestAllowReportsUnavailableRedis(t *testing.T) {
	rdb := deadRedis()
	defer rdb.Close()

	l := ratelimit.New(rdb, "test:", 3, time.Minute)
	if _, err := l.Allow(context.Background(), "10.0.0.1"); err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
}

// TestAllowWindow runs against a real server when REDIS_TEST_URL is set.
func TestAllowWindow(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	l := ratelimit.New(rdb, "coderelay-test:", 2, time.Minute)
	key := t.Name()
	defer l.Reset(ctx, key)

	for i, want := range []bool{true, true, false} {
		got, err := l.Allow(ctx, key)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if got != want {
			t.Errorf("attempt %d: allowed = %v, want %v", i+1, got, want)
		}
	}
}
