// Package pubsub fans out new chat messages to live subscribers.
//
// Topics are conversation IDs. The MemoryBus delivers within a single
// process; RedisBus and NATSBus relay every publish through a broker so that
// several chatd replicas share one topic space, then deliver locally through
// an embedded MemoryBus.
//
// Delivery is best-effort. Each subscriber owns a bounded buffer; when a slow
// subscriber's buffer is full the oldest queued event is discarded so the
// publisher never blocks. Events published to one topic arrive at every
// subscriber of that topic in publish order.
package pubsub
