// Package stats counts delivery outcomes from the event bus and logs a
// summary on a cron schedule.
package stats
