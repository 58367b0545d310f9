// Package notifier delivers operator and owner alerts through pluggable
// channels.
//
// A Service fans each Notification out to all configured channels and
// treats delivery as successful when at least one channel accepts it.
// Delivery can run inline or as a queue job under JobKindSend; in the job
// path Classify maps provider errors onto the queue's retry severities, so
// throttling and network failures are retried while rejected requests are
// discarded.
//
// The Service satisfies the recurrence engine's Notifier interface, wiring
// series-halt alerts to the same channels.
package notifier
