// Package api marshals typed BOSSWAVE requests into frames and waits for
// the agent's answer.
//
// One-shot operations (SetEntity, Publish, CreateEntity, CreateDOT,
// CreateDOTChain) return after the agent's resp frame. Streaming operations
// (Subscribe, Query, List, BuildChain) return after the resp handshake and
// keep delivering results to their handler on the dispatch goroutine.
//
// Values handed to a handler may alias frame memory owned by the client and
// are valid only until the handler returns.
package api
