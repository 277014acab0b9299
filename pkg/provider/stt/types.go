package stt

import "time"

// Transcript is one recognition result. Interim and final results share this
// type and are told apart by IsFinal.
type Transcript struct {
	// Text is the recognised speech of this segment only.
	Text string

	// IsFinal marks a committed segment. An interim result is replaced by the
	// next result of the same segment.
	IsFinal bool

	// Confidence in [0, 1]. Zero when the provider does not report it.
	Confidence float64

	// Timestamp is the segment start relative to the start of the session.
	Timestamp time.Duration

	// Duration is the length of the segment.
	Duration time.Duration
}

// KeywordBoost is a vocabulary hint.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "Groq").
	Keyword string

	// Boost is the provider-specific boost intensity.
	Boost float64
}
