// Package client owns one connection to a BOSSWAVE agent.
//
// Ownership boundary:
// - sequence number allocation and request registration
// - serialized frame writes and write-failure classification
// - the dispatch loop that routes inbound frames to request contexts
// - greeting validation and dial retry
//
// Callbacks run on the dispatch goroutine while the pending list is locked.
// They must not call Transact synchronously.
package client
