package whisper

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
)

// inferFunc transcribes one buffered utterance of 16-bit PCM.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// segmentConfig holds the energy-segmentation parameters shared by the HTTP
// and the native provider.
type segmentConfig struct {
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// segmenter simulates a streaming session on top of a batch engine. It
// buffers incoming PCM, cuts an utterance after silenceThresholdMs of quiet
// (or once maxBufferDurationMs is exceeded) and hands it to infer. All buffer
// state is confined to the run goroutine.
//
// An inference failure ends the session; Err reports the cause.
type segmenter struct {
	cfg   segmentConfig
	infer inferFunc

	audioCh chan []byte
	results chan stt.Transcript

	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	errMu sync.Mutex
	err   error
}

func newSegmenter(cfg segmentConfig, infer inferFunc) *segmenter {
	return &segmenter{
		cfg:     cfg,
		infer:   infer,
		audioCh: make(chan []byte, 256),
		results: make(chan stt.Transcript, 64),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// SendAudio queues a chunk of 16-bit little-endian PCM for segmentation.
func (s *segmenter) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.exited:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.exited:
		return stt.ErrSessionClosed
	}
}

// Results returns the stream of committed utterances. whisper.cpp is a batch
// engine, so every result is final.
func (s *segmenter) Results() <-chan stt.Transcript { return s.results }

// Err returns the inference error that ended the session, if any.
func (s *segmenter) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes any buffered speech, closes Results and waits for the
// processing goroutine to exit.
func (s *segmenter) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
	})
	return nil
}

func (s *segmenter) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// run is the single goroutine responsible for silence detection, buffering
// and inference dispatch.
func (s *segmenter) run(ctx context.Context) {
	defer close(s.exited)
	defer close(s.results)

	var (
		buffer    []byte        // PCM of the current utterance
		hadSpeech bool          // true once a high-energy chunk was buffered
		silenceMs int           // consecutive silence after speech
		offset    time.Duration // stream position of the next chunk
		start     time.Duration // stream position of the current utterance
	)

	bytesPerMs := s.cfg.sampleRate * s.cfg.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono
	}
	maxBufferBytes := s.cfg.maxBufferDurationMs * bytesPerMs

	// flush transcribes the buffer and resets it. It reports false when the
	// session must end.
	flush := func(flushCtx context.Context) bool {
		pcm, speech, at := buffer, hadSpeech, start
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return true
		}

		text, err := s.infer(flushCtx, pcm)
		if err != nil {
			s.fail(err)
			return false
		}
		if text == "" {
			return true
		}
		select {
		case s.results <- stt.Transcript{
			Text:      text,
			IsFinal:   true,
			Timestamp: at,
			Duration:  time.Duration(len(pcm)/bytesPerMs) * time.Millisecond,
		}:
		default:
		}
		return true
	}

	// finalFlush uses a fresh context because ctx may already be cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return

		case <-s.done:
			finalFlush()
			return

		case chunk := <-s.audioCh:
			chunkMs := chunkDurationMs(chunk, s.cfg.sampleRate, s.cfg.channels)
			pos := offset
			offset += time.Duration(chunkMs) * time.Millisecond

			if computeRMS(chunk) < defaultRMSThreshold {
				// Leading silence before any speech is discarded.
				if !hadSpeech {
					continue
				}
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.cfg.silenceThresholdMs && !flush(ctx) {
					return
				}
				continue
			}

			if !hadSpeech {
				start = pos
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes && !flush(ctx) {
				return
			}
		}
	}
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer in sample units (0–32767). Returns 0 for buffers
// shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the play length of chunk in milliseconds, or 0 for
// an invalid format.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}

// resolveStream fills zero StreamConfig fields from provider defaults.
func resolveStream(cfg stt.StreamConfig, language string, sampleRate int) (lang string, rate, channels int) {
	lang, rate, channels = cfg.Language, cfg.SampleRate, cfg.Channels
	if lang == "" {
		lang = language
	}
	if rate <= 0 {
		rate = sampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	return lang, rate, channels
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	return nil
}
