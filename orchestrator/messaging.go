package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
)

// BroadcastMessage delivers msg to every registered agent without waiting
// for them. Delivery failures are logged.
func (o *Orchestrator) BroadcastMessage(ctx context.Context, msg *comms.Message) error {
	if msg.Type == "" {
		msg.Type = comms.TypeBroadcast
	}
	// Deliveries are counted on the loop so Close never waits on a group
	// that is still growing.
	var agents []agent.Agent
	var closed bool
	if err := o.call(func(s *state) {
		if closed = s.closed; closed {
			return
		}
		agents = slices.Clone(s.roster)
		o.background.Add(len(agents))
	}); err != nil || closed {
		return fmt.Errorf("broadcast: %w", ErrClosed)
	}

	if o.bus != nil {
		if err := o.bus.Publish(ctx, msg); err != nil {
			o.logger.Warn("publish broadcast", "message_id", msg.ID, "err", err)
		}
	}

	dctx := context.WithoutCancel(ctx)
	for _, a := range agents {
		m := msg.Clone()
		m.To = a.ID()
		go func() {
			defer o.background.Done()
			if _, err := a.HandleMessage(dctx, m); err != nil {
				o.logger.Warn("broadcast delivery failed", "agent_id", a.ID(), "message_id", m.ID, "err", err)
			}
		}()
	}
	return nil
}

// RouteMessage delivers msg to the agent named by msg.To and returns its
// reply. Unknown recipients yield ErrAgentNotFound.
func (o *Orchestrator) RouteMessage(ctx context.Context, msg *comms.Message) (*comms.Message, error) {
	a, ok := o.Agent(msg.To)
	if !ok {
		return nil, fmt.Errorf("route message to %s: %w", msg.To, ErrAgentNotFound)
	}
	if o.bus != nil {
		if err := o.bus.Publish(ctx, msg); err != nil {
			o.logger.Warn("publish message", "message_id", msg.ID, "err", err)
		}
	}

	reply, err := a.HandleMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("route message to %s: %w", msg.To, err)
	}
	if reply != nil && o.bus != nil {
		if err := o.bus.Publish(ctx, reply); err != nil {
			o.logger.Warn("publish reply", "message_id", reply.ID, "err", err)
		}
	}
	return reply, nil
}

// SendMessage builds a message from its parts and routes it.
func (o *Orchestrator) SendMessage(ctx context.Context, from, to string, typ comms.MessageType, content string, data map[string]string) (*comms.Message, error) {
	if typ == "" {
		typ = comms.TypeDirect
	}
	msg := comms.NewMessage(typ, from, to, "", content)
	msg.Metadata = maps.Clone(data)
	return o.RouteMessage(ctx, msg)
}
