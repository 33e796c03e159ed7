package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		FailureRatio:     0.6,
		MinRequests:      100,
	}
}

func TestExecutePassesThroughResult(t *testing.T) {
	b := New(testConfig("ok"), nil)

	got, err := b.Execute(context.Background(), func() (interface{}, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.(string) != "hello" {
		t.Errorf("Execute() = %v, want hello", got)
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig("failing"), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("call %d: error = %v, want boom", i, err)
		}
	}

	if !b.IsOpen() {
		t.Fatalf("breaker state = %v, want open after threshold failures", b.State())
	}

	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("fn must not run while open")
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("error = %v, want ErrOpen", err)
	}
}

func TestCanceledContextDoesNotTrip(t *testing.T) {
	b := New(testConfig("canceled"), nil)

	for i := 0; i < 10; i++ {
		b.Execute(context.Background(), func() (interface{}, error) {
			return nil, context.Canceled
		})
	}

	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed after canceled calls", b.State())
	}
}

func TestExecuteWithFallback(t *testing.T) {
	b := New(testConfig("fallback"), nil)

	got, err := b.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, errors.New("down") },
		func(err error) (interface{}, error) { return "default", nil })
	if err != nil {
		t.Fatalf("ExecuteWithFallback() error = %v", err)
	}
	if got.(string) != "default" {
		t.Errorf("ExecuteWithFallback() = %v, want default", got)
	}
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(nil)

	a := m.GetOrCreate(testConfig("shared"))
	b := m.GetOrCreate(testConfig("shared"))
	if a != b {
		t.Error("GetOrCreate returned distinct breakers for the same name")
	}
	if m.Get("shared") != a {
		t.Error("Get did not return the registered breaker")
	}
	if m.Get("missing") != nil {
		t.Error("Get for unknown name should return nil")
	}
}

func TestManagerHealthSorted(t *testing.T) {
	m := NewManager(nil)
	m.GetOrCreate(testConfig("zeta"))
	m.GetOrCreate(testConfig("alpha"))

	health := m.Health()
	if len(health) != 2 {
		t.Fatalf("Health() returned %d entries, want 2", len(health))
	}
	if health[0].Name != "alpha" || health[1].Name != "zeta" {
		t.Errorf("Health() order = %s, %s; want alpha, zeta", health[0].Name, health[1].Name)
	}
	if !health[0].Healthy {
		t.Error("fresh breaker should report healthy")
	}
}
