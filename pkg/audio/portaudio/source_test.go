package portaudio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fakeStream fills the source buffer with a fixed value on every Read and
// fails once Stop has been called.
type fakeStream struct {
	mu      sync.Mutex
	buf     []float32
	value   float32
	reads   int
	stopped bool
	errs    []error

	stopCalls  int
	closeCalls int
}

func (f *fakeStream) Read() error {
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.stopped {
		return errors.New("stream stopped")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	for i := range f.buf {
		f.buf[i] = f.value
	}
	return nil
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.stopCalls++
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func startFake(t *testing.T, fs *fakeStream, opts ...Option) *Source {
	t.Helper()
	s := newSource(opts...)
	fs.buf = s.buf
	s.stream = fs
	go s.captureLoop()
	return s
}

func TestSource_DeliversPCMFrames(t *testing.T) {
	fs := &fakeStream{value: 0.5}
	s := startFake(t, fs, WithSampleRate(16000), WithFramesPerBuffer(160))
	defer s.Close()

	select {
	case f := <-s.Frames():
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("format = %dHz/%dch, want 16000Hz/1ch", f.SampleRate, f.Channels)
		}
		if len(f.Data) != 320 {
			t.Errorf("len(Data) = %d, want 320", len(f.Data))
		}
		if got := f.Duration(); got != 10*time.Millisecond {
			t.Errorf("Duration = %v, want 10ms", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSource_OverflowIsNotFatal(t *testing.T) {
	fs := &fakeStream{value: 0.1, errs: []error{portaudio.InputOverflowed}}
	s := startFake(t, fs)
	defer s.Close()

	select {
	case _, ok := <-s.Frames():
		if !ok {
			t.Fatal("frames closed after an input overflow")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered after overflow")
	}
}

func TestSource_ReadErrorClosesFrames(t *testing.T) {
	fs := &fakeStream{errs: []error{errors.New("device unplugged")}}
	s := startFake(t, fs)

	select {
	case _, ok := <-s.Frames():
		if ok {
			t.Fatal("expected frames channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after read error")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSource_CloseIsIdempotent(t *testing.T) {
	fs := &fakeStream{}
	s := startFake(t, fs)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fs.stopCalls != 1 || fs.closeCalls != 1 {
		t.Errorf("stop/close calls = %d/%d, want 1/1", fs.stopCalls, fs.closeCalls)
	}
	for range s.Frames() {
	}
}
