// Package pipeline drains the outbox. One Pipeline runs per agent: it finds
// the visible events of the agent's shard, translates them into a backend
// batch, submits it and applies the retry policy to every failed item.
//
// Admin exposes the operator surface over aborted events and agents.
package pipeline
