// Package engine ties the rule system to its effects: the Dispatcher
// executes a matched rule's declared action through the staging writer
// or the forward client, and the Listener orchestrates the whole flow
// for each stability event delivered by the host event source.
package engine
