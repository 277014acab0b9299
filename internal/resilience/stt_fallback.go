package resilience

import (
	"context"

	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
)

var _ stt.Provider = (*STTFallback)(nil)

// STTFallback is an [stt.Provider] that opens streams on the first healthy
// backend. Failover covers stream setup only; a session that fails later
// ends with an error and the caller opens a new one.
type STTFallback struct {
	group *Group[stt.Provider]
}

// NewSTTFallback returns a fallback chain starting at primary.
func NewSTTFallback(primaryName string, primary stt.Provider, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

// Names lists the backends in call order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
