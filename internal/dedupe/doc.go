// Package dedupe provides a time-based seen-key cache used to drop room
// events that are redelivered after a sync reconnect.
package dedupe
