package analysis

import "math"

// RMS returns sqrt(mean(x²)) over samples. An empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// BandLevels splits freq into eight equal contiguous bands and returns the
// mean of each band divided by 255. When len(freq) is not a multiple of
// eight, band boundaries are rounded down; a band with no bins reports 0.
func BandLevels(freq []byte) [Bands]float64 {
	var out [Bands]float64
	n := len(freq)
	for b := range Bands {
		lo, hi := b*n/Bands, (b+1)*n/Bands
		if hi <= lo {
			continue
		}
		var sum int
		for _, v := range freq[lo:hi] {
			sum += int(v)
		}
		out[b] = float64(sum) / float64(hi-lo) / 255
	}
	return out
}
