package routing_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"agentbridge/internal/routing"
	"agentbridge/internal/routing/routingtest"
)

type recorder struct {
	mu    sync.Mutex
	notes []routing.Notification
}

func (r *recorder) Notify(n routing.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) types() []routing.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []routing.NotificationType
	for _, n := range r.notes {
		out = append(out, n.Type)
	}
	return out
}

type fixture struct {
	reg  *routing.Registry
	orch *routingtest.Orchestrator
	m    *routing.Machine
	hook *test.Hook
	rec  *recorder
}

func newFixture(t *testing.T, endpoints map[string]string) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := &fixture{
		reg:  routing.NewRegistry(),
		orch: routingtest.New(),
		hook: hook,
		rec:  &recorder{},
	}
	f.m = routing.NewMachine(f.reg, f.orch, routing.NewDirectory(endpoints, ""), routing.MachineConfig{}, logger, f.rec)
	return f
}

func inbound(id, exten, state string) routing.SessionEvent {
	return routing.SessionEvent{
		Kind:    routing.SessionStart,
		Channel: routing.Channel{ID: id, Exten: exten, State: state},
	}
}

func outbound(id string) routing.SessionEvent {
	return routing.SessionEvent{
		Kind:    routing.SessionStart,
		Channel: routing.Channel{ID: id, State: "Up"},
		Args:    []string{"outbound"},
	}
}

func ended(id string) routing.SessionEvent {
	return routing.SessionEvent{Kind: routing.SessionEnd, Channel: routing.Channel{ID: id}}
}

// establish runs a full inbound plus outbound pairing and returns the call id.
func (f *fixture) establish(t *testing.T, in, exten string) (string, routing.Call) {
	t.Helper()
	f.m.HandleEvent(inbound(in, exten, "Up"))
	originates := f.orch.Commands(routing.OpOriginate)
	if len(originates) == 0 {
		t.Fatal("no originate issued")
	}
	callID := routing.CallID(exten, in)
	p, ok := f.reg.Pending(callID)
	if !ok || p.Outgoing == "" {
		t.Fatalf("pending bridge %s missing outgoing leg: %+v %v", callID, p, ok)
	}
	f.m.HandleEvent(outbound(p.Outgoing))
	call, ok := f.reg.Get(callID)
	if !ok {
		t.Fatalf("call %s not established", callID)
	}
	return callID, call
}

func hasEntry(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestMachine_InboundUsesDefaultEndpoint(t *testing.T) {
	f := newFixture(t, map[string]string{"80000": "SIP/AgentesVirtuales/+573009138918"})

	f.m.HandleEvent(inbound("in1", "150", "Up"))

	orig := f.orch.Commands(routing.OpOriginate)
	if len(orig) != 1 {
		t.Fatalf("originate count = %d, want 1", len(orig))
	}
	if want := []string{"SIP/150", "outbound"}; !reflect.DeepEqual(orig[0].Args, want) {
		t.Errorf("originate args = %v, want %v", orig[0].Args, want)
	}

	want := []string{routing.OpCreateBridge, routing.OpAddChannel, routing.OpOriginate}
	if got := f.orch.Ops(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}

	p, ok := f.reg.Pending("150-in1")
	if !ok {
		t.Fatal("pending bridge not registered")
	}
	if p.Incoming != "in1" || p.Outgoing != "out-1" || p.Bridge != "bridge-1" {
		t.Errorf("pending = %+v", p)
	}
	if len(f.reg.Calls()) != 0 {
		t.Error("no call should exist before the outbound leg arrives")
	}
}

func TestMachine_InboundUsesMappedEndpoint(t *testing.T) {
	f := newFixture(t, map[string]string{"80000": "SIP/AgentesVirtuales/+573009138918"})

	f.m.HandleEvent(inbound("in1", "80000", "Up"))

	orig := f.orch.Commands(routing.OpOriginate)
	if len(orig) != 1 || orig[0].Args[0] != "SIP/AgentesVirtuales/+573009138918" {
		t.Errorf("originate = %+v", orig)
	}
}

func TestMachine_InboundRingingIsAnswered(t *testing.T) {
	f := newFixture(t, nil)

	f.m.HandleEvent(inbound("in1", "150", "Ring"))

	ops := f.orch.Ops()
	if len(ops) == 0 || ops[0] != routing.OpAnswer {
		t.Errorf("first op = %v, want answer", ops)
	}
}

func TestMachine_AnswerFailureDoesNotStopSetup(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.FailOn(routing.OpAnswer, errors.New("channel gone"))

	f.m.HandleEvent(inbound("in1", "150", "Ring"))

	if f.orch.Count(routing.OpOriginate) != 1 {
		t.Error("setup should continue after a failed answer")
	}
	if !hasEntry(f.hook, logrus.ErrorLevel, "Answer failed") {
		t.Error("answer failure not logged")
	}
}

func TestMachine_InboundUnknownAgent(t *testing.T) {
	f := newFixture(t, nil)

	f.m.HandleEvent(routing.SessionEvent{
		Kind:    routing.SessionStart,
		Channel: routing.Channel{ID: "in1", Name: "SIP/trunk-0001", State: "Up"},
	})

	if _, ok := f.reg.Pending("unknown-in1"); !ok {
		t.Error("pending bridge should be keyed by unknown agent")
	}
	if orig := f.orch.Commands(routing.OpOriginate); len(orig) != 1 || orig[0].Args[0] != "SIP/unknown" {
		t.Errorf("originate = %+v", orig)
	}
}

func TestMachine_OutboundPromotesPendingBridge(t *testing.T) {
	f := newFixture(t, nil)

	if len(f.reg.Calls()) != 0 {
		t.Fatal("registry should start empty")
	}

	callID, call := f.establish(t, "in1", "150")

	if callID != "150-in1" {
		t.Errorf("call id = %q", callID)
	}
	if call.Incoming != "in1" || call.Outgoing != "out-1" || call.Bridge != "bridge-1" {
		t.Errorf("call = %+v", call)
	}
	if _, ok := f.reg.Pending(callID); ok {
		t.Error("pending bridge should be removed once the call is established")
	}
	if got := f.orch.Members("bridge-1"); !reflect.DeepEqual(got, []string{"in1", "out-1"}) {
		t.Errorf("bridge members = %v", got)
	}

	want := []routing.NotificationType{routing.NotifyPendingCreated, routing.NotifyCallEstablished}
	if got := f.rec.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestMachine_OutboundWithoutPendingBridge(t *testing.T) {
	f := newFixture(t, nil)
	f.m.HandleEvent(inbound("in1", "150", "Up"))
	f.orch.Reset()
	before, _ := f.reg.Pending("150-in1")

	f.m.HandleEvent(outbound("stranger"))

	if ops := f.orch.Ops(); len(ops) != 0 {
		t.Errorf("no commands expected, got %v", ops)
	}
	if after, ok := f.reg.Pending("150-in1"); !ok || after != before {
		t.Errorf("pending bridge mutated: %+v -> %+v", before, after)
	}
	if len(f.reg.Calls()) != 0 {
		t.Error("no call should be created")
	}
	if !hasEntry(f.hook, logrus.WarnLevel, "Outbound leg without pending bridge") {
		t.Error("expected warning for unmatched outbound leg")
	}
}

func TestMachine_OutboundAddFailureKeepsPending(t *testing.T) {
	f := newFixture(t, nil)
	f.m.HandleEvent(inbound("in1", "150", "Up"))
	f.orch.FailOn(routing.OpAddChannel, errors.New("boom"))

	f.m.HandleEvent(outbound("out-1"))

	if _, ok := f.reg.Get("150-in1"); ok {
		t.Error("call must not be established when the add fails")
	}
	if _, ok := f.reg.Pending("150-in1"); !ok {
		t.Error("pending bridge should survive the failed add")
	}
}

func TestMachine_SetupFailureTruncates(t *testing.T) {
	tests := []struct {
		name        string
		failOp      string
		wantOps     []string
		wantPending bool
	}{
		{"create bridge", routing.OpCreateBridge, []string{routing.OpCreateBridge}, false},
		{"add inbound", routing.OpAddChannel, []string{routing.OpCreateBridge, routing.OpAddChannel}, false},
		{"originate", routing.OpOriginate, []string{routing.OpCreateBridge, routing.OpAddChannel, routing.OpOriginate}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.orch.FailOn(tt.failOp, errors.New("ari down"))

			f.m.HandleEvent(inbound("in1", "150", "Up"))

			if got := f.orch.Ops(); !reflect.DeepEqual(got, tt.wantOps) {
				t.Errorf("ops = %v, want %v", got, tt.wantOps)
			}
			p, ok := f.reg.Pending("150-in1")
			if ok != tt.wantPending {
				t.Errorf("pending present = %v, want %v", ok, tt.wantPending)
			}
			if ok && p.Outgoing != "" {
				t.Errorf("outgoing should be unset after failed originate, got %q", p.Outgoing)
			}
			if !hasEntry(f.hook, logrus.ErrorLevel, "Inbound setup aborted") {
				t.Error("setup failure not logged")
			}
		})
	}
}

func TestMachine_ReplacementOfOutboundLeg(t *testing.T) {
	f := newFixture(t, nil)
	callID, call := f.establish(t, "in1", "150")
	f.orch.Reset()

	f.m.HandleEvent(routing.SessionEvent{
		Kind:              routing.SessionStart,
		Channel:           routing.Channel{ID: "out-1b", State: "Up"},
		Args:              []string{"outbound"},
		ReplacedChannelID: call.Outgoing,
	})

	got, _ := f.reg.Get(callID)
	if got.Outgoing != "out-1b" || got.Incoming != "in1" || got.Bridge != call.Bridge {
		t.Errorf("call after replacement = %+v", got)
	}
	adds := f.orch.Commands(routing.OpAddChannel)
	if len(adds) != 1 || !reflect.DeepEqual(adds[0].Args, []string{call.Bridge, "out-1b"}) {
		t.Errorf("add commands = %+v", adds)
	}
	if ops := f.orch.Ops(); len(ops) != 1 {
		t.Errorf("replacement should only add the channel, got %v", ops)
	}
}

func TestMachine_ReplacementOfIncomingLeg(t *testing.T) {
	f := newFixture(t, nil)
	callID, call := f.establish(t, "in1", "150")

	f.m.HandleEvent(routing.SessionEvent{
		Kind:              routing.SessionStart,
		Channel:           routing.Channel{ID: "in1b", State: "Up"},
		ReplacedChannelID: "in1",
	})

	got, _ := f.reg.Get(callID)
	if got.Incoming != "in1b" || got.Outgoing != call.Outgoing {
		t.Errorf("call after replacement = %+v", got)
	}
	if f.orch.Count(routing.OpCreateBridge) != 1 {
		t.Error("replacement must not create a new bridge")
	}
}

func TestMachine_ReplacementOfUntrackedChannelFallsThrough(t *testing.T) {
	f := newFixture(t, nil)

	f.m.HandleEvent(routing.SessionEvent{
		Kind:              routing.SessionStart,
		Channel:           routing.Channel{ID: "in9", Exten: "160", State: "Up"},
		ReplacedChannelID: "ghost",
	})

	if _, ok := f.reg.Pending("160-in9"); !ok {
		t.Error("untracked replacement should be handled as a new inbound session")
	}
}

func TestMachine_SessionEndTearsDownCall(t *testing.T) {
	for _, leg := range []string{"in1", "out-1"} {
		t.Run(leg, func(t *testing.T) {
			f := newFixture(t, nil)
			callID, call := f.establish(t, "in1", "150")
			f.orch.Reset()

			f.m.HandleEvent(ended(leg))

			other, _ := call.Other(leg)
			want := []routingtest.Command{
				{Op: routing.OpHangup, Args: []string{other}},
				{Op: routing.OpDestroyBridge, Args: []string{call.Bridge}},
			}
			if got := f.orch.Commands(); !reflect.DeepEqual(got, want) {
				t.Errorf("commands = %+v, want %+v", got, want)
			}
			if _, ok := f.reg.Get(callID); ok {
				t.Error("call should be removed")
			}
			if calls, pending := f.reg.Count(); calls != 0 || pending != 0 {
				t.Errorf("registry not empty: %d calls, %d pending", calls, pending)
			}
		})
	}
}

func TestMachine_SessionEndIgnoresCommandErrors(t *testing.T) {
	f := newFixture(t, nil)
	callID, _ := f.establish(t, "in1", "150")
	f.orch.FailOn(routing.OpHangup, errors.New("no such channel"))
	f.orch.FailOn(routing.OpDestroyBridge, errors.New("no such bridge"))

	f.m.HandleEvent(ended("in1"))

	if _, ok := f.reg.Get(callID); ok {
		t.Error("call should be removed even when teardown commands fail")
	}
	for _, e := range f.hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Errorf("teardown errors should not be logged above debug: %q", e.Message)
		}
	}
	types := f.rec.types()
	if types[len(types)-1] != routing.NotifyCallEnded {
		t.Errorf("last notification = %v", types[len(types)-1])
	}
}

func TestMachine_SecondSessionEndIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.establish(t, "in1", "150")
	f.m.HandleEvent(ended("in1"))
	f.orch.Reset()

	f.m.HandleEvent(ended("out-1"))

	if ops := f.orch.Ops(); len(ops) != 0 {
		t.Errorf("second end should issue nothing, got %v", ops)
	}
}

func TestMachine_SessionEndClearsPendingBridge(t *testing.T) {
	f := newFixture(t, nil)
	f.m.HandleEvent(inbound("in1", "150", "Up"))
	f.orch.Reset()

	f.m.HandleEvent(ended("in1"))

	if _, ok := f.reg.Pending("150-in1"); ok {
		t.Error("pending bridge should be removed when its inbound leg ends")
	}
	if ops := f.orch.Ops(); len(ops) != 0 {
		t.Errorf("pending cleanup issues no commands, got %v", ops)
	}

	// the agent leg arriving afterwards has nothing to join
	f.m.HandleEvent(outbound("out-1"))
	if len(f.reg.Calls()) != 0 {
		t.Error("late outbound leg must not create a call")
	}
}

func TestMachine_UnknownSessionEndIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.m.HandleEvent(ended("nobody"))
	if ops := f.orch.Ops(); len(ops) != 0 {
		t.Errorf("ops = %v", ops)
	}
}

func TestMachine_EventWithoutChannelIDDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.m.HandleEvent(routing.SessionEvent{Kind: routing.SessionStart})

	if ops := f.orch.Ops(); len(ops) != 0 {
		t.Errorf("ops = %v", ops)
	}
	if !hasEntry(f.hook, logrus.WarnLevel, "Event without channel id, dropped") {
		t.Error("expected warning")
	}
}

func TestMachine_IndependentCalls(t *testing.T) {
	f := newFixture(t, nil)
	idA, callA := f.establish(t, "inA", "150")
	idB, callB := f.establish(t, "inB", "160")

	if callA.Bridge == callB.Bridge {
		t.Fatal("calls must not share a bridge")
	}

	f.m.HandleEvent(ended("inA"))

	if _, ok := f.reg.Get(idA); ok {
		t.Error("call A should be gone")
	}
	if got, ok := f.reg.Get(idB); !ok || got != callB {
		t.Errorf("call B changed: %+v %v", got, ok)
	}
}
