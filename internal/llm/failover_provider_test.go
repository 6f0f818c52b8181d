package llm

import (
	"context"
	"time"

	"testing"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

type recordingProvider struct {
	name string
	req  *Request
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) GenerateResponse(ctx context.Context, req *Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	p.req = req
	msg := models.NewUserMessage("ok")
	return &msg, nil
}

func TestFailoverProviderRoutesToNativeWhenUntripped(t *testing.T) {
	native := &recordingProvider{name: "native"}
	emergency := &recordingProvider{name: "emergency"}
	failover := NewFailover(FailoverConfig{EmergencyEndpointURL: "https://emergency", EmergencyModel: "emergency-model"})

	p := NewFailoverProvider(native, emergency, failover)
	if _, err := p.GenerateResponse(context.Background(), &Request{}, nil); err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if native.req == nil {
		t.Fatal("expected the native provider to receive the request")
	}
	if emergency.req != nil {
		t.Fatal("expected the emergency provider to be untouched")
	}
	if p.Name() != "native" {
		t.Fatalf("Name() = %q, want native", p.Name())
	}
}

func TestFailoverProviderReroutesWhenTripped(t *testing.T) {
	native := &recordingProvider{name: "native"}
	emergency := &recordingProvider{name: "emergency"}
	failover := NewFailover(FailoverConfig{
		EmergencyEndpointURL: "https://emergency",
		EmergencyModel:       "emergency-model",
		RecoveryTimeout:      time.Minute,
	})
	failover.Trip()

	p := NewFailoverProvider(native, emergency, failover)
	if _, err := p.GenerateResponse(context.Background(), &Request{ThinkingEnabled: true}, nil); err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if native.req != nil {
		t.Fatal("expected the native provider to be bypassed while tripped")
	}
	if emergency.req == nil {
		t.Fatal("expected the emergency provider to receive the rerouted request")
	}
	if emergency.req.EndpointURL != "https://emergency" || emergency.req.ModelOverride != "emergency-model" {
		t.Fatalf("rerouted request = %+v, want the emergency endpoint and model", emergency.req)
	}
	if emergency.req.ThinkingEnabled {
		t.Fatal("expected thinking to be forced off on the emergency path")
	}
	if p.Name() != "emergency" {
		t.Fatalf("Name() = %q, want emergency", p.Name())
	}
}
