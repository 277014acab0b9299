// Package analysis turns a live capture stream into the two signals the turn
// controller and the visualizer need: an instantaneous RMS volume and a coarse
// eight-band spectrum.
//
// An [Analyzer] mirrors the behaviour of a Web Audio AnalyserNode. Every call
// to [Analyzer.Poll] takes the newest fftSize samples from the connected
// [audio.Ring], applies a Blackman window, runs a real FFT, smooths the
// magnitudes over time and maps them onto a byte scale between a minimum and
// a maximum decibel level.
//
// Until [Analyzer.Connect] has been called the analyzer is not ready: Poll is
// a no-op and Volume and Levels return zero values.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

// Bands is the number of level bands reported by [Analyzer.Levels].
const Bands = 8

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

// ErrInvalidFFTSize is returned by [New] when the FFT size is not a power of
// two in [32, 32768].
var ErrInvalidFFTSize = errors.New("analysis: fft size must be a power of two between 32 and 32768")

// Frame is one analysis snapshot. TimeDomain holds fftSize samples in [-1, 1]
// and Frequency holds fftSize/2 byte-scaled magnitudes.
type Frame struct {
	TimeDomain []float32
	Frequency  []byte
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithFFTSize sets the analysis window length. Default: 256.
func WithFFTSize(n int) Option {
	return func(a *Analyzer) { a.fftSize = n }
}

// WithSmoothing sets the time constant used to average successive spectra,
// clamped to [0, 1). Default: 0.8.
func WithSmoothing(tau float64) Option {
	return func(a *Analyzer) { a.smoothing = math.Max(0, math.Min(tau, 0.999)) }
}

// WithDecibelRange sets the magnitudes mapped to byte 0 and byte 255.
// Default: -100 dB to -30 dB.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(a *Analyzer) {
		if maxDB > minDB {
			a.minDB, a.maxDB = minDB, maxDB
		}
	}
}

// Analyzer computes volume and band levels from a capture ring.
//
// Poll, Frame, Volume and Levels must be called from a single goroutine (the
// turn controller's event loop). Connect and Ready may be called from any
// goroutine.
type Analyzer struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	input atomic.Pointer[audio.Ring]

	fft      *fourier.FFT
	window   []float64
	windowed []float64
	coeffs   []complex128
	smoothed []float64
	frame    Frame
}

// New returns an analyzer that is not yet connected to a stream.
func New(opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		fftSize:   DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}
	for _, o := range opts {
		o(a)
	}
	if a.fftSize < 32 || a.fftSize > 32768 || a.fftSize&(a.fftSize-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFFTSize, a.fftSize)
	}

	bins := a.fftSize / 2
	a.fft = fourier.NewFFT(a.fftSize)
	a.window = blackman(a.fftSize)
	a.windowed = make([]float64, a.fftSize)
	a.coeffs = make([]complex128, a.fftSize/2+1)
	a.smoothed = make([]float64, bins)
	a.frame = Frame{
		TimeDomain: make([]float32, a.fftSize),
		Frequency:  make([]byte, bins),
	}
	return a, nil
}

// FFTSize returns the configured analysis window length.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// Connect attaches the capture ring and marks the analyzer ready. Passing nil
// detaches the stream.
func (a *Analyzer) Connect(r *audio.Ring) {
	a.input.Store(r)
}

// Ready reports whether a stream is connected.
func (a *Analyzer) Ready() bool {
	return a.input.Load() != nil
}

// Poll refreshes the time-domain and frequency buffers from the newest
// samples in the connected ring. It does nothing when the analyzer is not
// ready.
func (a *Analyzer) Poll() {
	r := a.input.Load()
	if r == nil {
		return
	}
	r.Snapshot(a.frame.TimeDomain)
	a.updateSpectrum()
}

// Frame returns a copy of the current buffers.
func (a *Analyzer) Frame() Frame {
	return Frame{
		TimeDomain: append([]float32(nil), a.frame.TimeDomain...),
		Frequency:  append([]byte(nil), a.frame.Frequency...),
	}
}

// Volume returns the RMS level of the current time-domain buffer, or 0 when
// the analyzer is not ready.
func (a *Analyzer) Volume() float64 {
	if !a.Ready() {
		return 0
	}
	return RMS(a.frame.TimeDomain)
}

// Levels returns the mean of each of the eight frequency bands scaled to
// [0, 1], or all zeros when the analyzer is not ready.
func (a *Analyzer) Levels() [Bands]float64 {
	if !a.Ready() {
		return [Bands]float64{}
	}
	return BandLevels(a.frame.Frequency)
}

func (a *Analyzer) updateSpectrum() {
	for i, s := range a.frame.TimeDomain {
		a.windowed[i] = float64(s) * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)

	scale := 1 / float64(a.fftSize)
	rangeScale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		if a.smoothed[k] <= 0 {
			a.frame.Frequency[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := (db - a.minDB) * rangeScale
		switch {
		case v <= 0:
			a.frame.Frequency[k] = 0
		case v >= 255:
			a.frame.Frequency[k] = 255
		default:
			a.frame.Frequency[k] = byte(v)
		}
	}
}

// blackman returns the Blackman window used by Web Audio analysers
// (alpha = 0.16).
func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
