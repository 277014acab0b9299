package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200, 300})))
	equalSamples(t, got, []int16{100, 100, -200, -200, 300, 300})
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"stereo at full scale", []int16{32767, 32767}, 2, []int16{32767}},
		{"three channels", []int16{30, 60, 90}, 3, []int16{60}},
		{"mono passthrough", []int16{5, 6}, 1, []int16{5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToSamples(audio.Downmix(samplesToBytes(tt.in), tt.channels))
			equalSamples(t, got, tt.want)
		})
	}
}

func TestResample(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		pcm := samplesToBytes([]int16{1, 2, 3})
		if out := audio.Resample(pcm, 1, 16000, 16000); len(out) != len(pcm) {
			t.Fatalf("len = %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("upsample mono", func(t *testing.T) {
		got := bytesToSamples(audio.Resample(samplesToBytes([]int16{1000, 2000}), 1, 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample = %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last sample = %d, want close to 2000", last)
		}
	})

	t.Run("downsample mono", func(t *testing.T) {
		got := bytesToSamples(audio.Resample(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 1, 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
		if got[0] != 100 || got[1] != 400 {
			t.Errorf("got %v, want [100 400]", got)
		}
	})

	t.Run("stereo keeps channels apart", func(t *testing.T) {
		got := bytesToSamples(audio.Resample(samplesToBytes([]int16{100, -100, 100, -100}), 2, 16000, 48000))
		if len(got) != 12 {
			t.Fatalf("expected 12 samples, got %d", len(got))
		}
		for i := 0; i < len(got); i += 2 {
			if got[i] != 100 || got[i+1] != -100 {
				t.Fatalf("frame %d = (%d,%d), want (100,-100)", i/2, got[i], got[i+1])
			}
		}
	})
}

func TestFormatConverter(t *testing.T) {
	t.Run("matching format is returned unchanged", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1, Timestamp: time.Second}
		out := conv.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("expected the same backing array for a matching frame")
		}
	})

	t.Run("48k stereo to 16k mono", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		stereo := make([]int16, 0, 960*2)
		for range 960 {
			stereo = append(stereo, 1000, 3000)
		}
		out := conv.Convert(audio.AudioFrame{Data: samplesToBytes(stereo), SampleRate: 48000, Channels: 2, Timestamp: 20 * time.Millisecond})
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Fatalf("format = %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
		}
		got := bytesToSamples(out.Data)
		if len(got) != 320 {
			t.Fatalf("samples = %d, want 320", len(got))
		}
		if got[0] != 2000 {
			t.Errorf("sample = %d, want 2000", got[0])
		}
		if out.Timestamp != 20*time.Millisecond {
			t.Errorf("timestamp = %v, want 20ms", out.Timestamp)
		}
	})

	t.Run("mono to stereo", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 2}}
		out := conv.Convert(audio.AudioFrame{Data: samplesToBytes([]int16{7}), SampleRate: 16000, Channels: 1})
		equalSamples(t, bytesToSamples(out.Data), []int16{7, 7})
	})

	t.Run("odd byte count is dropped", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if out.Data != nil {
			t.Errorf("expected nil data, got %d bytes", len(out.Data))
		}
	})
}

func TestFloat32Mono(t *testing.T) {
	got := audio.Float32Mono(samplesToBytes([]int16{16384, -16384, 0, 0}), 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("got %v, want [0 0]", got)
	}

	got = audio.Float32Mono(samplesToBytes([]int16{-32768}), 1)
	if got[0] != -1 {
		t.Errorf("full scale negative = %v, want -1", got[0])
	}
}

func TestPCM16_Clamps(t *testing.T) {
	got := bytesToSamples(audio.PCM16([]float32{2, -2, 0}))
	equalSamples(t, got, []int16{32767, -32767, 0})
}

func TestAudioFrame_Duration(t *testing.T) {
	f := audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", got)
	}
	if got := (audio.AudioFrame{Data: make([]byte, 4)}).Duration(); got != 0 {
		t.Errorf("Duration without format = %v, want 0", got)
	}
}
