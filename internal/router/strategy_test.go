package router

import (
	"testing"
	"time"

	"github.com/agentxhub/agentx/internal/protocol"
)

func view(id string, load float64, mean time.Duration, caps ...string) *AgentRuntimeView {
	card := protocol.AgentCard{ID: id}
	for _, c := range caps {
		card.Capabilities = append(card.Capabilities, protocol.Capability{Name: c, Available: true})
	}
	return &AgentRuntimeView{
		Card:         card,
		Endpoints:    []protocol.Endpoint{{Type: "http", URL: "http://" + id + "/"}},
		Load:         load,
		ResponseMean: mean,
		Health:       "Healthy",
	}
}

func TestRoundRobinRotatesPerTarget(t *testing.T) {
	s := &RoundRobinStrategy{}
	candidates := []*AgentRuntimeView{view("a", 0, 0), view("b", 0, 0), view("c", 0, 0)}

	var order []string
	for i := 0; i < 6; i++ {
		agent, _, ok := s.Select("target", candidates, nil, &protocol.Message{})
		if !ok {
			t.Fatal("selection failed")
		}
		order = append(order, agent.Card.ID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rotation order = %v, want %v", order, want)
		}
	}

	// A different target id keeps its own cursor.
	agent, _, _ := s.Select("other-target", candidates, nil, &protocol.Message{})
	if agent.Card.ID != "a" {
		t.Fatalf("fresh target should start at the first candidate, got %s", agent.Card.ID)
	}
}

func TestLeastLoadPicksMinimumAndBreaksTiesByMean(t *testing.T) {
	s := &LeastLoadStrategy{}

	agent, _, _ := s.Select("t", []*AgentRuntimeView{
		view("busy", 0.9, time.Millisecond),
		view("idle", 0.1, time.Second),
	}, nil, &protocol.Message{})
	if agent.Card.ID != "idle" {
		t.Fatalf("expected lowest load, got %s", agent.Card.ID)
	}

	agent, _, _ = s.Select("t", []*AgentRuntimeView{
		view("slow", 0.5, 200*time.Millisecond),
		view("fast", 0.5, 10*time.Millisecond),
	}, nil, &protocol.Message{})
	if agent.Card.ID != "fast" {
		t.Fatalf("expected tie broken by lowest mean, got %s", agent.Card.ID)
	}
}

func TestLowestLatencyTreatsUnmeasuredAsMedian(t *testing.T) {
	s := &LowestLatencyStrategy{}

	// fresh has no samples; it must be treated as the median (100ms), not as
	// artificially fastest, so measured "fast" wins.
	agent, _, _ := s.Select("t", []*AgentRuntimeView{
		view("fast", 0, 10*time.Millisecond),
		view("median", 0, 100*time.Millisecond),
		view("slow", 0, 500*time.Millisecond),
		view("fresh", 0, 0),
	}, nil, &protocol.Message{})
	if agent.Card.ID != "fast" {
		t.Fatalf("expected measured fastest agent, got %s", agent.Card.ID)
	}

	// The unmeasured agent sits at the median of the measured ones and must
	// not win against a measured agent that is faster than that median.
	agent, _, _ = s.Select("t", []*AgentRuntimeView{
		view("fresh", 0, 0),
		view("quick", 0, time.Millisecond),
		view("slow", 0, 10*time.Millisecond),
	}, nil, &protocol.Message{})
	if agent.Card.ID != "quick" {
		t.Fatalf("expected quick to beat the median-ranked fresh agent, got %s", agent.Card.ID)
	}
}

func TestCapabilityAwareFiltersThenDefersToLeastLoad(t *testing.T) {
	s := &CapabilityAwareStrategy{fallback: &LeastLoadStrategy{}}
	candidates := []*AgentRuntimeView{
		view("translator", 0.1, 0, "translate"),
		view("summarizer-busy", 0.9, 0, "summarize"),
		view("summarizer-idle", 0.2, 0, "summarize"),
	}

	msg := &protocol.Message{Metadata: map[string]interface{}{"required_capability": "summarize"}}
	agent, _, ok := s.Select("t", candidates, nil, msg)
	if !ok || agent.Card.ID != "summarizer-idle" {
		t.Fatalf("expected least-loaded summarizer, got %+v ok=%v", agent, ok)
	}

	// No agent advertises the capability: selection must fail, not fall back
	// to an agent that cannot serve the message.
	msg = &protocol.Message{Metadata: map[string]interface{}{"required_capability": "paint"}}
	if _, _, ok := s.Select("t", candidates, nil, msg); ok {
		t.Fatal("expected no selection when no candidate advertises the capability")
	}

	// No declared need: behaves exactly like the fallback.
	agent, _, _ = s.Select("t", candidates, nil, &protocol.Message{})
	if agent.Card.ID != "translator" {
		t.Fatalf("expected plain least-load pick, got %s", agent.Card.ID)
	}
}
