package handles

import (
	"sync"
	"testing"
)

type payload struct {
	Name  string
	Value int
}

func TestRegisterAndLookup(t *testing.T) {
	var tab Table[*payload]

	data := &payload{Name: "test", Value: 42}
	id := tab.Register(data)
	if id == 0 {
		t.Fatal("Register should return non-zero id")
	}

	got, ok := tab.Lookup(id)
	if !ok {
		t.Fatal("Lookup should find a registered id")
	}
	if got != data {
		t.Errorf("Lookup returned %+v, want %+v", got, data)
	}
}

func TestUnregister(t *testing.T) {
	var tab Table[string]
	id := tab.Register("test string")

	if !tab.Unregister(id) {
		t.Error("first Unregister should report true")
	}
	if _, ok := tab.Lookup(id); ok {
		t.Error("Lookup should fail after Unregister")
	}
	if tab.Unregister(id) {
		t.Error("second Unregister should report false")
	}
}

func TestLookupNonExistent(t *testing.T) {
	var tab Table[int]
	if _, ok := tab.Lookup(999999); ok {
		t.Error("Lookup of non-existent id should fail")
	}
	if _, ok := tab.Lookup(0); ok {
		t.Error("Lookup of id 0 should fail")
	}
}

func TestIDsAreUnique(t *testing.T) {
	var tab Table[int]
	seen := make(map[uintptr]bool)

	for i := 0; i < 1000; i++ {
		id := tab.Register(i)
		if seen[id] {
			t.Errorf("id %d was returned twice", id)
		}
		seen[id] = true
	}
	if tab.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", tab.Len())
	}

	for id := range seen {
		tab.Unregister(id)
	}
	if tab.Len() != 0 {
		t.Errorf("Len after cleanup = %d, want 0", tab.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	const numGoroutines = 100
	const numOps = 100

	var tab Table[*payload]
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				h := tab.Register(&payload{Value: id*numOps + j})
				if _, ok := tab.Lookup(h); !ok {
					t.Errorf("Lookup failed for id %d", h)
				}
				tab.Unregister(h)
			}
		}(i)
	}

	wg.Wait()
	if tab.Len() != 0 {
		t.Errorf("Len = %d after concurrent register/unregister, want 0", tab.Len())
	}
}
