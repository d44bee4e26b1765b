package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// HoldController parks and resumes the inbound leg of an agent's call.
// It runs concurrently with the state machine and shares its registry.
type HoldController struct {
	reg       *Registry
	orch      Orchestrator
	delay     time.Duration
	log       logrus.FieldLogger
	observers observers
}

// NewHoldController creates a controller. delay is waited before a hold
// touches the bridge.
func NewHoldController(reg *Registry, orch Orchestrator, delay time.Duration, log logrus.FieldLogger, obs ...Observer) *HoldController {
	return &HoldController{
		reg:       reg,
		orch:      orch,
		delay:     delay,
		log:       log,
		observers: observers(obs),
	}
}

// Hold removes the caller from the bridge and starts music on hold.
func (h *HoldController) Hold(ctx context.Context, agent string) error {
	callID, call, ok := h.reg.FindByAgent(agent)
	if !ok {
		h.log.WithField("agent", agent).Warn("HOLD: no call found for agent")
		return fmt.Errorf("agent %s: %w", agent, ErrCallNotFound)
	}

	log := h.log.WithFields(logrus.Fields{"agent": agent, "call_id": callID, "channel": call.Incoming, "bridge": call.Bridge})
	log.Info("HOLD requested")

	if err := h.wait(ctx); err != nil {
		return err
	}
	// The call may have been transferred or torn down while waiting.
	call, ok = h.reg.Get(callID)
	if !ok {
		log.Warn("HOLD: call ended before hold")
		return fmt.Errorf("agent %s: %w", agent, ErrCallNotFound)
	}
	log = log.WithField("channel", call.Incoming)
	if err := h.orch.RemoveChannel(call.Bridge, call.Incoming); err != nil {
		log.WithError(err).Error("HOLD remove channel")
		return err
	}
	if err := h.orch.StartMOH(call.Incoming); err != nil {
		log.WithError(err).Error("HOLD start moh")
		return err
	}

	log.Info("HOLD active")
	h.observers.notify(Notification{Type: NotifyCallHeld, CallID: callID, Agent: agent, Call: call, Channel: call.Incoming, Leg: LegIncoming})
	return nil
}

// Unhold stops music on hold and puts the caller back in the bridge.
func (h *HoldController) Unhold(ctx context.Context, agent string) error {
	callID, call, ok := h.reg.FindByAgent(agent)
	if !ok {
		h.log.WithField("agent", agent).Warn("UNHOLD: no call found for agent")
		return fmt.Errorf("agent %s: %w", agent, ErrCallNotFound)
	}

	log := h.log.WithFields(logrus.Fields{"agent": agent, "call_id": callID, "channel": call.Incoming, "bridge": call.Bridge})
	log.Info("UNHOLD requested")

	if err := h.orch.StopMOH(call.Incoming); err != nil {
		log.WithError(err).Error("UNHOLD stop moh")
		return err
	}
	if err := h.orch.AddChannel(call.Bridge, call.Incoming); err != nil {
		log.WithError(err).Error("UNHOLD add channel")
		return err
	}

	log.Info("UNHOLD completed")
	h.observers.notify(Notification{Type: NotifyCallUnheld, CallID: callID, Agent: agent, Call: call, Channel: call.Incoming, Leg: LegIncoming})
	return nil
}

// wait lets the inbound leg settle before it is pulled out of the bridge.
func (h *HoldController) wait(ctx context.Context) error {
	if h.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(h.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
