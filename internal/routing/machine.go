package routing

import (
	"context"

	"github.com/sirupsen/logrus"
)

// MachineConfig holds the routing knobs of the state machine.
type MachineConfig struct {
	BridgeType     string // bridge type requested for every call, usually "mixing"
	OutboundMarker string // first application argument of originated agent legs
}

// Machine reacts to session events: it pairs inbound legs with originated
// agent legs inside a bridge and tears both down when either leg ends.
// HandleEvent must be called from a single goroutine.
type Machine struct {
	reg       *Registry
	orch      Orchestrator
	dir       *Directory
	cfg       MachineConfig
	log       logrus.FieldLogger
	observers observers
}

// NewMachine creates a state machine over reg and orch.
func NewMachine(reg *Registry, orch Orchestrator, dir *Directory, cfg MachineConfig, log logrus.FieldLogger, obs ...Observer) *Machine {
	if cfg.BridgeType == "" {
		cfg.BridgeType = "mixing"
	}
	if cfg.OutboundMarker == "" {
		cfg.OutboundMarker = "outbound"
	}
	return &Machine{
		reg:       reg,
		orch:      orch,
		dir:       dir,
		cfg:       cfg,
		log:       log,
		observers: observers(obs),
	}
}

// Run handles events in arrival order until ctx is done or events is closed.
func (m *Machine) Run(ctx context.Context, events <-chan SessionEvent) error {
	m.log.Info("Call state machine started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.HandleEvent(ev)
		}
	}
}

// HandleEvent processes one session event to completion. Command failures
// truncate the event's remaining steps and are logged; they never stop dispatch.
func (m *Machine) HandleEvent(ev SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{"panic": r, "event": ev.Kind.String()}).Error("PANIC RECOVERED handling event")
		}
	}()

	if ev.Channel.ID == "" {
		m.log.WithField("event", ev.Kind.String()).Warn("Event without channel id, dropped")
		return
	}

	switch ev.Kind {
	case SessionStart:
		m.onSessionStart(ev)
	case SessionEnd:
		m.onSessionEnd(ev.Channel.ID)
	default:
		m.log.WithField("kind", int(ev.Kind)).Debug("Ignoring unknown event kind")
	}
}

func (m *Machine) onSessionStart(ev SessionEvent) {
	if ev.IsReplacement() && m.replaceLeg(ev.ReplacedChannelID, ev.Channel.ID) {
		return
	}

	if ev.FirstArg() == m.cfg.OutboundMarker {
		m.onOutbound(ev.Channel)
		return
	}
	m.onInbound(ev.Channel)
}

// replaceLeg swaps oldID for newID in the call that owns it and joins newID
// to the call's bridge. It returns false when no call owns oldID.
func (m *Machine) replaceLeg(oldID, newID string) bool {
	callID, call, leg, ok := m.reg.ReplaceLeg(oldID, newID)
	if !ok {
		m.log.WithFields(logrus.Fields{"old": oldID, "new": newID}).
			Debug("Replacement for untracked channel, handling as new session")
		return false
	}

	log := m.log.WithFields(logrus.Fields{
		"call_id": callID,
		"old":     oldID,
		"new":     newID,
		"leg":     leg,
		"bridge":  call.Bridge,
	})
	m.observers.notify(Notification{Type: NotifyLegReplaced, CallID: callID, Agent: call.Agent, Call: call, Channel: newID, Leg: leg})

	// the registry keeps the new id even if the bridge refuses it
	if err := m.orch.AddChannel(call.Bridge, newID); err != nil {
		log.WithError(err).Error("Error adding replacement channel to bridge")
		return true
	}
	log.Info("Replacement channel added to bridge")
	return true
}

func (m *Machine) onInbound(ch Channel) {
	agent := ResolveAgent(ch)
	callID := CallID(agent, ch.ID)
	endpoint := m.dir.Endpoint(agent)
	log := m.log.WithFields(logrus.Fields{
		"channel":  ch.ID,
		"state":    ch.State,
		"agent":    agent,
		"call_id":  callID,
		"endpoint": endpoint,
	})
	log.Info("Inbound call")

	if ch.State == ChannelStateRing {
		if err := m.orch.Answer(ch.ID); err != nil {
			log.WithError(err).Error("Answer failed")
		} else {
			log.Debug("Channel answered")
		}
	}

	if err := m.setupInbound(callID, agent, ch.ID, endpoint, log); err != nil {
		log.WithError(err).Error("Inbound setup aborted")
	}
}

// setupInbound runs create-bridge, add-inbound, originate. Steps already
// done are not undone when a later one fails.
func (m *Machine) setupInbound(callID, agent, inbound, endpoint string, log logrus.FieldLogger) error {
	bridgeID, err := m.orch.CreateBridge(m.cfg.BridgeType)
	if err != nil {
		return err
	}
	if err := m.orch.AddChannel(bridgeID, inbound); err != nil {
		return err
	}

	pending := PendingBridge{Bridge: bridgeID, Incoming: inbound, Agent: agent}
	m.reg.AddPending(callID, pending)
	log.WithField("bridge", bridgeID).Info("Bridge created; inbound leg added")
	m.observers.notify(Notification{Type: NotifyPendingCreated, CallID: callID, Agent: agent, Channel: inbound,
		Call: Call{Incoming: inbound, Bridge: bridgeID, Agent: agent}})

	outID, err := m.orch.Originate(endpoint, m.cfg.OutboundMarker)
	if err != nil {
		return err
	}
	if !m.reg.SetPendingOutgoing(callID, outID) {
		log.WithField("out", outID).Warn("Pending bridge gone before originate returned")
		return nil
	}
	log.WithField("out", outID).Info("Outbound leg originated")
	return nil
}

func (m *Machine) onOutbound(ch Channel) {
	callID, pending, ok := m.reg.PendingByOutgoing(ch.ID)
	if !ok {
		m.log.WithField("channel", ch.ID).Warn("Outbound leg without pending bridge")
		return
	}

	log := m.log.WithFields(logrus.Fields{"channel": ch.ID, "call_id": callID, "bridge": pending.Bridge})
	if err := m.orch.AddChannel(pending.Bridge, ch.ID); err != nil {
		log.WithError(err).Error("Error adding outbound leg to bridge")
		return
	}

	call, ok := m.reg.Promote(callID, ch.ID)
	if !ok {
		log.Warn("Pending bridge vanished before promotion")
		return
	}
	log.Info("Bridge ready for call")
	m.observers.notify(Notification{Type: NotifyCallEstablished, CallID: callID, Agent: call.Agent, Call: call, Channel: ch.ID})
}

func (m *Machine) onSessionEnd(channelID string) {
	log := m.log.WithField("channel", channelID)
	log.Info("Session ended")

	if callID, call, ok := m.reg.RemoveCallByChannel(channelID); ok {
		// the far end may already be gone; errors here are expected
		if other, _ := call.Other(channelID); other != "" {
			if err := m.orch.Hangup(other); err != nil {
				log.WithError(err).WithField("other", other).Debug("Hangup of peer leg failed")
			}
		}
		if err := m.orch.DestroyBridge(call.Bridge); err != nil {
			log.WithError(err).WithField("bridge", call.Bridge).Debug("Destroy bridge failed")
		}
		log.WithFields(logrus.Fields{"call_id": callID, "bridge": call.Bridge}).Info("Bridge destroyed after one leg ended")
		m.observers.notify(Notification{Type: NotifyCallEnded, CallID: callID, Agent: call.Agent, Call: call, Channel: channelID})
	}

	for _, id := range m.reg.RemovePendingByChannel(channelID) {
		log.WithField("call_id", id).Debug("Pending bridge cleared")
		m.observers.notify(Notification{Type: NotifyPendingDropped, CallID: id, Channel: channelID})
	}
}
