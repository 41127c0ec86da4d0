// Package dispatch drives a notification from submission to a terminal state.
//
// Submit creates a pending record, runs up to Config.MaxAttempts attempts
// through the channel's transport with exponential backoff between them, and
// stores the final record (sent or failed). Running out of attempts is a
// normal outcome carried by the returned record, not an error.
//
// # Suspension
//
// Backoff waits go through an injected clock.Sleeper; transports take their
// own. Tests substitute clock.Recorder to observe delays without waiting.
//
// # Events
//
// When a bus is configured the engine publishes DeliveryEvent values under
// the Event* types. Publishing never blocks the attempt loop.
package dispatch
