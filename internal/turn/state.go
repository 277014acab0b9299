// Package turn decides when the user has finished speaking and hands the
// finished utterance to a responder.
//
// The [Controller] owns the microphone-driven conversation loop. It moves
// between three states:
//
//	Idle ──Run──▶ Listening ──silence──▶ AwaitingResponse ──reply──▶ Listening
//
// While Listening, recognition runs and every poll tick feeds the current
// input volume into a [SilenceDetector]. When the detector reports that the
// configured quiet period has elapsed and a transcript is buffered, the
// controller stops recognition and sends the text to the responder. No new
// turn starts until the reply (or an error) is back.
//
// All controller logic runs on the goroutine that called [Controller.Run].
// Recognition events, silence timer firings and responder completions are
// posted to its event queue, so controller state needs no locking.
package turn

import "fmt"

// State is the phase of the conversation loop.
type State int32

const (
	Idle State = iota
	Listening
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
