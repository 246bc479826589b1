package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeProvider struct {
	id    string
	reply string
	err   error
	calls int
}

func (p *fakeProvider) ID() string   { return p.id }
func (p *fakeProvider) Name() string { return p.id }

func (p *fakeProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &ChatResponse{Content: p.reply}, nil
}

func (p *fakeProvider) HealthCheck(context.Context) error { return nil }

func TestFirstRegisteredIsDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "first", reply: "from first"})
	r.Register(&fakeProvider{id: "second", reply: "from second"})

	out, err := r.Complete(context.Background(), "unbound-agent", "sys", "usr")
	if err != nil {
		t.Fatal(err)
	}
	if out != "from first" {
		t.Fatalf("got %q, want the first registered provider", out)
	}
}

func TestBindRoutesAgent(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "a", reply: "from a"})
	r.Register(&fakeProvider{id: "b", reply: "from b"})
	r.Bind("kallias", "b")

	out, err := r.Complete(context.Background(), "kallias", "sys", "usr")
	if err != nil {
		t.Fatal(err)
	}
	if out != "from b" {
		t.Fatalf("got %q, want the bound provider", out)
	}
}

func TestFallbackChain(t *testing.T) {
	broken := &fakeProvider{id: "primary", err: errors.New("down")}
	alsoBroken := &fakeProvider{id: "fb1", err: errors.New("down too")}
	healthy := &fakeProvider{id: "fb2", reply: "rescued"}

	r := NewRouter(zap.NewNop())
	r.Register(broken)
	r.Register(alsoBroken)
	r.Register(healthy)
	r.Bind("agent", "primary")
	r.SetFallbacks("agent", []string{"fb1", "fb2"})

	out, err := r.Complete(context.Background(), "agent", "sys", "usr")
	if err != nil {
		t.Fatal(err)
	}
	if out != "rescued" {
		t.Fatalf("got %q, want the second fallback's reply", out)
	}
	if broken.calls != 1 || alsoBroken.calls != 1 || healthy.calls != 1 {
		t.Fatalf("call counts = %d/%d/%d, want 1 each", broken.calls, alsoBroken.calls, healthy.calls)
	}
}

func TestAllProvidersFailing(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "only", err: errors.New("down")})

	if _, err := r.Complete(context.Background(), "agent", "sys", "usr"); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestNoProviders(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Complete(context.Background(), "agent", "sys", "usr"); err == nil {
		t.Fatal("expected error with no registered providers")
	}
}

func TestCompleteShapesMessages(t *testing.T) {
	var seen *ChatRequest
	capture := &captureProvider{}
	r := NewRouter(zap.NewNop())
	r.Register(capture)

	if _, err := r.Complete(context.Background(), "agent", "the system", "the user"); err != nil {
		t.Fatal(err)
	}
	seen = capture.req
	if len(seen.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(seen.Messages))
	}
	if seen.Messages[0].Role != "system" || seen.Messages[0].Content != "the system" {
		t.Fatalf("system message = %+v", seen.Messages[0])
	}
	if seen.Messages[1].Role != "user" || seen.Messages[1].Content != "the user" {
		t.Fatalf("user message = %+v", seen.Messages[1])
	}
}

type captureProvider struct {
	req *ChatRequest
}

func (p *captureProvider) ID() string   { return "capture" }
func (p *captureProvider) Name() string { return "Capture" }

func (p *captureProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.req = req
	return &ChatResponse{Content: "ok"}, nil
}

func (p *captureProvider) HealthCheck(context.Context) error { return nil }
