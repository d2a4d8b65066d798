// Package cluster coordinates the agents that drain the outbox.
//
// Every agent process registers a row in search_outbox_agents and refreshes
// its last_pulse on a fixed interval. On each pulse the Coordinator evicts
// agents that missed the dead-agent deadline, orders the remaining live
// agents by ID and assigns bucket i of a RangeHashTable(N) to the agent at
// position i. The assignment is a pure function of the sorted ID list, so
// two agents observing the same membership compute the same result.
//
// Reassignment is eventually consistent: until every agent has pulsed after a
// membership change, a hash range may be briefly owned by zero or two agents.
// The pipeline tolerates this because deleting an already deleted event is a
// no-op.
package cluster
