package routing

import "time"

// NotificationType names a registry transition.
type NotificationType string

const (
	NotifyPendingCreated  NotificationType = "pending_created"
	NotifyPendingDropped  NotificationType = "pending_dropped"
	NotifyCallEstablished NotificationType = "call_established"
	NotifyLegReplaced     NotificationType = "leg_replaced"
	NotifyCallEnded       NotificationType = "call_ended"
	NotifyCallHeld        NotificationType = "call_held"
	NotifyCallUnheld      NotificationType = "call_unheld"
)

// Notification describes one transition. Call is zero for pending-bridge
// notifications; Channel is the channel that triggered it, if any.
type Notification struct {
	Type    NotificationType `json:"type"`
	CallID  string           `json:"call_id"`
	Agent   string           `json:"agent,omitempty"`
	Call    Call             `json:"call"`
	Channel string           `json:"channel,omitempty"`
	Leg     Leg              `json:"leg,omitempty"`
	At      time.Time        `json:"at"`
}

// Observer receives registry transitions. Notify must not block.
type Observer interface {
	Notify(Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }

type observers []Observer

func (o observers) notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for _, obs := range o {
		obs.Notify(n)
	}
}
