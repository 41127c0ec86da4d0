// Package transport delivers a single message attempt for a channel.
//
// The real email/SMS providers are out of reach for this daemon, so each
// channel is backed by a Simulated transport: a fixed failure probability per
// attempt and a uniformly drawn network delay. Randomness and suspension are
// injected so tests can force success or failure without timing hacks.
package transport
