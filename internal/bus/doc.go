// ABOUTME: Package bus provides inter-agent message delivery with priorities.
// ABOUTME: Offers an in-process synchronous bus and a durable SQLite-log bus.

// Package bus implements point-to-point and broadcast messaging between
// named agents. Messages carry a type, an opaque payload, and a priority;
// queued messages for a recipient are always ordered urgent, high, normal,
// low, with arrival order breaking ties.
//
// MemoryBus delivers synchronously inside Publish: every subscriber handler
// for the recipient runs before Publish returns, so a slow handler blocks
// the publisher. SQLiteBus appends to a per-recipient ordered log and each
// subscriber consumes from its own read position on a background poll loop,
// decoupling publish latency from handling latency and surviving restarts.
// Acknowledgment advances the durable read cursor; redelivery of messages
// that were never acknowledged is the caller's responsibility.
package bus
