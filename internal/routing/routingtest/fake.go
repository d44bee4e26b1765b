// Package routingtest provides an in-memory routing.Orchestrator for tests.
package routingtest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"agentbridge/internal/routing"
)

// Command is one recorded orchestrator call.
type Command struct {
	Op   string
	Args []string
}

// Orchestrator records every command and simulates bridge membership.
type Orchestrator struct {
	mu       sync.Mutex
	commands []Command
	fail     map[string]error
	bridges  map[string]map[string]bool
	types    map[string]string
	bridgeN  int
	channelN int
}

// New returns an orchestrator where every command succeeds.
func New() *Orchestrator {
	return &Orchestrator{
		fail:    make(map[string]error),
		bridges: make(map[string]map[string]bool),
		types:   make(map[string]string),
	}
}

// FailOn makes every subsequent call of op fail with err (nil clears it).
func (o *Orchestrator) FailOn(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.fail, op)
		return
	}
	o.fail[op] = err
}

// Commands returns a copy of the recorded commands, optionally filtered by op.
func (o *Orchestrator) Commands(ops ...string) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	want := make(map[string]bool, len(ops))
	for _, op := range ops {
		want[op] = true
	}
	var out []Command
	for _, c := range o.commands {
		if len(want) == 0 || want[c.Op] {
			out = append(out, Command{Op: c.Op, Args: append([]string(nil), c.Args...)})
		}
	}
	return out
}

// Ops returns the recorded operation names in order.
func (o *Orchestrator) Ops() []string {
	var ops []string
	for _, c := range o.Commands() {
		ops = append(ops, c.Op)
	}
	return ops
}

// Count returns how many times op was issued.
func (o *Orchestrator) Count(op string) int {
	return len(o.Commands(op))
}

// Reset forgets recorded commands; bridge state is kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = nil
}

// Members returns the sorted channel ids currently in bridgeID.
func (o *Orchestrator) Members(bridgeID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.membersLocked(bridgeID)
}

func (o *Orchestrator) membersLocked(bridgeID string) []string {
	var out []string
	for ch := range o.bridges[bridgeID] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) record(op, target string, args ...string) error {
	o.commands = append(o.commands, Command{Op: op, Args: args})
	return routing.NewCommandError(op, target, o.fail[op])
}

func (o *Orchestrator) CreateBridge(bridgeType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpCreateBridge, "", bridgeType); err != nil {
		return "", err
	}
	o.bridgeN++
	id := fmt.Sprintf("bridge-%d", o.bridgeN)
	o.bridges[id] = make(map[string]bool)
	o.types[id] = bridgeType
	return id, nil
}

func (o *Orchestrator) AddChannel(bridgeID, channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpAddChannel, bridgeID, bridgeID, channelID); err != nil {
		return err
	}
	if o.bridges[bridgeID] == nil {
		o.bridges[bridgeID] = make(map[string]bool)
	}
	o.bridges[bridgeID][channelID] = true
	return nil
}

func (o *Orchestrator) RemoveChannel(bridgeID, channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpRemoveChannel, bridgeID, bridgeID, channelID); err != nil {
		return err
	}
	delete(o.bridges[bridgeID], channelID)
	return nil
}

func (o *Orchestrator) DestroyBridge(bridgeID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpDestroyBridge, bridgeID, bridgeID); err != nil {
		return err
	}
	delete(o.bridges, bridgeID)
	delete(o.types, bridgeID)
	return nil
}

func (o *Orchestrator) Originate(endpoint, appArgs string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpOriginate, endpoint, endpoint, appArgs); err != nil {
		return "", err
	}
	o.channelN++
	return fmt.Sprintf("out-%d", o.channelN), nil
}

func (o *Orchestrator) Answer(channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record(routing.OpAnswer, channelID, channelID)
}

func (o *Orchestrator) Hangup(channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record(routing.OpHangup, channelID, channelID)
}

func (o *Orchestrator) StartMOH(channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record(routing.OpStartMOH, channelID, channelID)
}

func (o *Orchestrator) StopMOH(channelID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record(routing.OpStopMOH, channelID, channelID)
}

// ErrNoBridge is returned by GetBridge for unknown bridges.
var ErrNoBridge = errors.New("bridge not found")

func (o *Orchestrator) GetBridge(bridgeID string) (routing.BridgeInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.record(routing.OpGetBridge, bridgeID, bridgeID); err != nil {
		return routing.BridgeInfo{}, err
	}
	if _, ok := o.bridges[bridgeID]; !ok {
		return routing.BridgeInfo{}, routing.NewCommandError(routing.OpGetBridge, bridgeID, ErrNoBridge)
	}
	return routing.BridgeInfo{
		ID:       bridgeID,
		Type:     o.types[bridgeID],
		Channels: o.membersLocked(bridgeID),
	}, nil
}

var _ routing.Orchestrator = (*Orchestrator)(nil)
