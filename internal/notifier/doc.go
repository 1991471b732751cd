// Package notifier pushes job transition alerts to a Telegram chat.
//
// Alerts are small, high-signal messages intended for operators. The service
// subscribes to the transition bus, keeps only the configured states
// (interrupted by default), and sends a short text per transition.
//
// # Throttling
//
// Sends pass through a token bucket. A transition arriving while the bucket
// is empty is dropped, not queued: an alert storm must never build a backlog
// that outlives the incident, and the journal keeps the full record anyway.
//
// # Transport
//
// Delivery goes through the Sender interface. The production sender wraps
// gopkg.in/telebot.v4; tests substitute a capture.
package notifier
