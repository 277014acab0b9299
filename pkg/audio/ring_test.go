package audio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

func TestRing_SnapshotPadsWhenShort(t *testing.T) {
	r := audio.NewRing(8)
	r.Write([]float32{0.1, 0.2})

	dst := []float32{9, 9, 9, 9}
	r.Snapshot(dst)

	want := []float32{0, 0, 0.1, 0.2}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestRing_KeepsNewestSamples(t *testing.T) {
	r := audio.NewRing(4)
	r.Write([]float32{1, 2, 3})
	r.Write([]float32{4, 5, 6})

	dst := make([]float32, 4)
	r.Snapshot(dst)
	want := []float32{3, 4, 5, 6}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestRing_OversizedWrite(t *testing.T) {
	r := audio.NewRing(3)
	r.Write([]float32{1, 2, 3, 4, 5})

	dst := make([]float32, 3)
	r.Snapshot(dst)
	if dst[0] != 3 || dst[1] != 4 || dst[2] != 5 {
		t.Fatalf("dst = %v, want [3 4 5]", dst)
	}
}

func TestRing_Reset(t *testing.T) {
	r := audio.NewRing(4)
	r.Write([]float32{1, 1, 1, 1})
	r.Reset()

	dst := make([]float32, 4)
	r.Snapshot(dst)
	for _, v := range dst {
		if v != 0 {
			t.Fatalf("dst = %v after Reset, want zeros", dst)
		}
	}
}

func TestRing_ConcurrentWriters(t *testing.T) {
	r := audio.NewRing(256)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				r.Write([]float32{0.5, 0.5})
				r.Snapshot(make([]float32, 16))
			}
		}()
	}
	wg.Wait()

	dst := make([]float32, 256)
	r.Snapshot(dst)
	for _, v := range dst {
		if v != 0.5 {
			t.Fatalf("unexpected sample %v", v)
		}
	}
}

func TestRing_StaleAfter(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	r := audio.NewRing(4, audio.WithStaleAfter(500*time.Millisecond, clock))
	r.Write([]float32{0.5, 0.5, 0.5, 0.5})

	tests := []struct {
		name    string
		advance time.Duration
		write   bool
		want    float32
	}{
		{"fresh", 0, false, 0.5},
		{"within window", 500 * time.Millisecond, false, 0.5},
		{"stale", time.Millisecond, false, 0},
		{"still stale", 30 * time.Second, false, 0},
		{"new audio", 0, true, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance(tt.advance)
			if tt.write {
				r.Write([]float32{0.5, 0.5, 0.5, 0.5})
			}
			dst := []float32{9, 9, 9, 9}
			r.Snapshot(dst)
			for i, v := range dst {
				if v != tt.want {
					t.Fatalf("dst[%d] = %v, want %v (dst %v)", i, v, tt.want, dst)
				}
			}
		})
	}
}
