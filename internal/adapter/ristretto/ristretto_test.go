package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "usage:u1:-/-"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	report := []byte(`{"user_id":"u1","total_cost":6}`)
	if err := c.Set(ctx, "usage:u1:-/-", report, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "usage:u1:-/-")
	if err != nil || !ok || string(got) != string(report) {
		t.Fatalf("get = %q, %v, %v", got, ok, err)
	}

	if err := c.Delete(ctx, "usage:u1:-/-"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "usage:u1:-/-"); ok {
		t.Fatal("hit after delete")
	}
}

func TestCacheExpires(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "cost:agent:a1", []byte(`{}`), 50*time.Millisecond)
	if _, ok, _ := c.Get(ctx, "cost:agent:a1"); !ok {
		t.Fatal("expected hit before expiry")
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "cost:agent:a1"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestNewRaisesTinyBudgets(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
}
