package llm

import (
	"context"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// FailoverProvider decorates a native Provider with the process-wide
// failover flag (§4.4 item 6): while the flag is tripped, every request is
// rerouted to the emergency provider with its configured endpoint and
// model substituted in, and thinking forced off.
type FailoverProvider struct {
	native    Provider
	emergency Provider
	failover  *Failover
}

// NewFailoverProvider wraps native so requests reroute to emergency while
// failover is tripped. A nil failover makes this behave identically to
// native.
func NewFailoverProvider(native, emergency Provider, failover *Failover) *FailoverProvider {
	return &FailoverProvider{native: native, emergency: emergency, failover: failover}
}

// Name identifies the provider currently serving requests.
func (p *FailoverProvider) Name() string {
	if p.failover != nil && p.failover.IsTripped() {
		return p.emergency.Name()
	}
	return p.native.Name()
}

// GenerateResponse routes to native unless the failover flag is tripped.
func (p *FailoverProvider) GenerateResponse(ctx context.Context, req *Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	if p.failover == nil {
		return p.native.GenerateResponse(ctx, req, onEvent)
	}

	endpointURL, model, forceThinkingOff := p.failover.Route()
	if !p.failover.IsTripped() {
		return p.native.GenerateResponse(ctx, req, onEvent)
	}

	rerouted := *req
	rerouted.EndpointURL = endpointURL
	if model != "" {
		rerouted.ModelOverride = model
	}
	if forceThinkingOff {
		rerouted.ThinkingEnabled = false
	}
	return p.emergency.GenerateResponse(ctx, &rerouted, onEvent)
}
