package state

import (
	"fmt"
	"sync"
	"testing"
)

func TestBagSetGet(t *testing.T) {
	b := NewBag()
	if b.Has("data") {
		t.Fatal("fresh bag must be empty")
	}
	b.Set("data", "hello")
	if got := b.GetString("data"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	b.Delete("data")
	if b.Has("data") {
		t.Fatal("deleted key still present")
	}
}

func TestBagConcurrentWriters(t *testing.T) {
	b := NewBag()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%8)
				b.Set(key, n)
				b.Get(key)
			}
		}(i)
	}
	wg.Wait()
	for j := 0; j < 8; j++ {
		if !b.Has(fmt.Sprintf("k%d", j)) {
			t.Fatalf("key k%d lost", j)
		}
	}
}
