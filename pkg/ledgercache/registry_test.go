package ledgercache

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func noParse(reply []byte) ([]ParsedStateProof, error) { return nil, nil }
func noRelease(parsed []ParsedStateProof) error     { return nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("107"); ok {
		t.Fatal("Expected empty registry")
	}

	if err := r.Register("107", noParse, noRelease); err != nil {
		t.Fatal(err)
	}
	p, ok := r.Lookup("107")
	if !ok {
		t.Fatal("Expected parser for 107")
	}
	if p.TxnType != "107" {
		t.Errorf("Expected TxnType 107, got %q", p.TxnType)
	}
}

func TestRegistry_ReplaceParser(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("200", noParse, noRelease); err != nil {
		t.Fatal(err)
	}

	replaced := false
	err := r.Register("200", func(reply []byte) ([]ParsedStateProof, error) {
		replaced = true
		return nil, nil
	}, noRelease)
	if err != nil {
		t.Fatal(err)
	}

	p, _ := r.Lookup("200")
	p.Parse(nil)
	if !replaced {
		t.Error("Expected second registration to replace the first")
	}
}

func TestRegistry_RejectsIncompleteParser(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		txnType string
		parse   ParseFunc
		release ReleaseFunc
	}{
		{"", noParse, noRelease},
		{"1", nil, noRelease},
		{"1", noParse, nil},
	}
	for _, c := range cases {
		if err := r.Register(c.txnType, c.parse, c.release); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	}
	if got := r.TxnTypes(); len(got) != 0 {
		t.Errorf("Expected nothing registered, got %v", got)
	}
}

func TestRegistry_InstancesAreIsolated(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	if err := a.Register("107", noParse, noRelease); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Lookup("107"); ok {
		t.Error("Expected registration to stay local to its registry")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		txnType := string(rune('A' + i%10))
		go func() {
			defer wg.Done()
			_ = r.Register(txnType, noParse, noRelease)
		}()
		go func() {
			defer wg.Done()
			r.Lookup(txnType)
		}()
	}
	wg.Wait()

	want := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	if got := r.TxnTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
