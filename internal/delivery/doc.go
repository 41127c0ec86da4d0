// Package delivery holds the notification data model shared by the store,
// the transports and the dispatch engine.
//
// A Record is the unit of work and its outcome. It is created in the pending
// state and moves exactly once to a terminal state (sent or failed). Records
// are handed out by value; Clone deep-copies the optional timestamp so no
// caller can reach the engine's copy.
package delivery
