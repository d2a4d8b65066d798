package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentType is the role tag of a cluster member.
type AgentType string

const (
	// AgentTypeEventProcessor drains outbox events.
	AgentTypeEventProcessor AgentType = "EVENT_PROCESSOR"
)

// AgentState represents the lifecycle states of an agent.
// These values must match the state column of search_outbox_agents.
type AgentState string

const (
	AgentStateStarting  AgentState = "STARTING"
	AgentStateRunning   AgentState = "RUNNING"
	AgentStateSuspended AgentState = "SUSPENDED"
	AgentStateStopped   AgentState = "STOPPED"
)

// AllAgentStates lists every lifecycle state in declaration order.
func AllAgentStates() []AgentState {
	return []AgentState{AgentStateStarting, AgentStateRunning, AgentStateSuspended, AgentStateStopped}
}

// validAgentTransitions defines the allowed agent state transitions.
var validAgentTransitions = map[AgentState][]AgentState{
	AgentStateStarting: {
		AgentStateRunning,
		AgentStateStopped,
	},
	AgentStateRunning: {
		AgentStateSuspended,
		AgentStateStopped,
	},
	AgentStateSuspended: {
		AgentStateRunning,
		AgentStateStopped,
	},
}

// IsValid reports whether the state is part of the agent lifecycle.
func (s AgentState) IsValid() bool {
	switch s {
	case AgentStateStarting, AgentStateRunning, AgentStateSuspended, AgentStateStopped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state will never change again.
func (s AgentState) IsTerminal() bool {
	return s == AgentStateStopped
}

// IsLive reports whether an agent in this state takes part in shard assignment.
// STARTING agents count because they are waiting for their first assignment.
func (s AgentState) IsLive() bool {
	switch s {
	case AgentStateStarting, AgentStateRunning, AgentStateSuspended:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s AgentState) CanTransitionTo(next AgentState) bool {
	for _, allowed := range validAgentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentStatesLeadingTo returns the states from which next can be reached.
func AgentStatesLeadingTo(next AgentState) []AgentState {
	var from []AgentState
	for _, s := range AllAgentStates() {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// ValidateAgentTransition returns a *TransitionError when from -> to is not allowed.
func ValidateAgentTransition(from, to AgentState) error {
	if !from.CanTransitionTo(to) {
		return NewTransitionError("agent", string(from), string(to))
	}
	return nil
}

// ShardAssignment is the bucket an agent currently owns.
type ShardAssignment struct {
	// Index is the bucket index in [0, TotalShards).
	Index int
	// Range is the hash range of the bucket.
	Range ShardRange
}

// Agent is the cluster-membership record of one running worker process.
type Agent struct {
	ID          uuid.UUID
	Type        AgentType
	Name        string
	State       AgentState
	LastPulse   time.Time
	TotalShards int
	// Assignment is nil until the coordinator has assigned a bucket.
	Assignment *ShardAssignment
	CreatedAt  time.Time
}

// IsExpired reports whether the agent missed its pulse deadline. Expired
// agents are treated as STOPPED by their peers.
func (a *Agent) IsExpired(now time.Time, deadAgentTimeout time.Duration) bool {
	return now.Sub(a.LastPulse) > deadAgentTimeout
}

// IsLive reports whether the agent takes part in shard assignment at now.
func (a *Agent) IsLive(now time.Time, deadAgentTimeout time.Duration) bool {
	return a.State.IsLive() && !a.IsExpired(now, deadAgentTimeout)
}
