package livefeed

import (
	"fmt"
	"sync"
	"testing"
)

func TestLastValueWins(t *testing.T) {
	b := NewBuffer()
	if _, ok := b.Get("cam1"); ok {
		t.Fatal("expected empty buffer")
	}

	b.Set("cam1", []byte("a"))
	b.Set("cam1", []byte("b"))
	b.Set("cam2", []byte("x"))

	got, ok := b.Get("cam1")
	if !ok || string(got) != "b" {
		t.Fatalf("cam1 = %q, %v; want b", got, ok)
	}
	f, _ := b.Latest("cam1")
	if f.Seq != 2 {
		t.Errorf("seq = %d, want 2", f.Seq)
	}
	if len(b.Cameras()) != 2 {
		t.Errorf("expected 2 cameras")
	}

	b.Delete("cam1")
	if _, ok := b.Get("cam1"); ok {
		t.Error("expected cam1 removed")
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	b := NewBuffer()
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cam := fmt.Sprintf("cam%d", c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Set(cam, []byte{byte(i)})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Get(cam)
			}
		}()
	}
	wg.Wait()

	for c := 0; c < 4; c++ {
		f, ok := b.Latest(fmt.Sprintf("cam%d", c))
		if !ok || f.Seq != 500 || f.Data[0] != byte(499&0xff) {
			t.Fatalf("cam%d: unexpected final frame %+v", c, f)
		}
	}
}
