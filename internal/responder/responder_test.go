package responder

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/b-aragu/organic-sphere/internal/history"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm/mock"
)

func TestLLM_Send(t *testing.T) {
	tests := []struct {
		name    string
		resp    *llm.CompletionResponse
		err     error
		want    string
		wantErr bool
	}{
		{name: "reply", resp: &llm.CompletionResponse{Content: "Hi! How can I help?"}, want: "Hi! How can I help?"},
		{name: "empty content", resp: &llm.CompletionResponse{Content: "  "}, want: DefaultFallbackText},
		{name: "nil response", want: DefaultFallbackText},
		{name: "provider error", err: errors.New("429 too many requests"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{CompleteResponse: tt.resp, CompleteErr: tt.err}
			got, err := NewLLM(p).Send(context.Background(), "hello")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLLM_RequestShape(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r := NewLLM(p, WithTemperature(0.7), WithMaxTokens(256))

	if _, err := r.Send(context.Background(), "what is the weather"); err != nil {
		t.Fatal(err)
	}
	req := p.LastRequest()
	if req.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 256 {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0] != llm.UserMessage("what is the weather") {
		t.Errorf("messages = %+v, want a single user message", req.Messages)
	}
}

func TestLLM_SetSystemPrompt(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r := NewLLM(p, WithSystemPrompt("Answer in one sentence."))
	if got := r.SystemPrompt(); got != "Answer in one sentence." {
		t.Fatalf("SystemPrompt = %q", got)
	}

	r.SetSystemPrompt("Be brief.")
	_, _ = r.Send(context.Background(), "hi")
	if got := p.LastRequest().SystemPrompt; got != "Be brief." {
		t.Errorf("sent prompt = %q", got)
	}

	r.SetSystemPrompt("")
	if got := r.SystemPrompt(); got != DefaultSystemPrompt {
		t.Errorf("empty prompt gave %q, want default", got)
	}
}

func TestLLM_FallbackText(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{}}
	got, err := NewLLM(p, WithFallbackText("...")).Send(context.Background(), "hi")
	if err != nil || got != "..." {
		t.Errorf("Send = %q, %v", got, err)
	}
}

func TestLLM_HistoryContext(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore(0)
	for _, turn := range []history.Turn{
		{Input: "hi", Reply: "hello"},
		{Input: "is grok fast", Corrected: "is Groq fast", Reply: "yes"},
		{Input: "broken", Reply: "sorry", Failed: true},
		{Input: "thanks", Reply: "any time"},
	} {
		if err := store.Record(ctx, &turn); err != nil {
			t.Fatal(err)
		}
	}

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r := NewLLM(p, WithHistory(store, 3))
	if _, err := r.Send(ctx, "bye"); err != nil {
		t.Fatal(err)
	}

	want := []llm.Message{
		llm.UserMessage("is Groq fast"), llm.AssistantMessage("yes"),
		llm.UserMessage("thanks"), llm.AssistantMessage("any time"),
		llm.UserMessage("bye"),
	}
	got := p.LastRequest().Messages
	if len(got) != len(want) {
		t.Fatalf("messages = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLLM_HistoryDisabled(t *testing.T) {
	store := history.NewMemoryStore(0)
	_ = store.Record(context.Background(), &history.Turn{Input: "hi", Reply: "hello"})

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	_, _ = NewLLM(p, WithHistory(store, 0)).Send(context.Background(), "bye")
	if n := len(p.LastRequest().Messages); n != 1 {
		t.Errorf("stateless request carried %d messages", n)
	}
}

func TestLLM_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r := NewLLM(p, WithMetrics(m), WithProviderName("groq"))
	_, _ = r.Send(context.Background(), "one")
	p.CompleteErr = errors.New("boom")
	_, _ = r.Send(context.Background(), "two")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "organicsphere.provider.requests" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				status, _ := dp.Attributes.Value("status")
				provider, _ := dp.Attributes.Value("provider")
				if provider.AsString() != "groq" {
					t.Errorf("provider label = %q", provider.AsString())
				}
				counts[status.AsString()] += dp.Value
			}
		}
	}
	if counts["ok"] != 1 || counts["error"] != 1 {
		t.Errorf("provider requests by status = %v", counts)
	}
}
