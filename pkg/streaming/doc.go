/*
Package streaming implements C9, the streaming fabric: fan-out of
progress and verdict events to subscribed clients, with a bounded
reconnection replay buffer (spec.md §4.5).

A subscription is scoped to one (tenant_id, artifact_id) pair. Within a
subscription, delivery is FIFO and duplicate-suppressed by a monotonic
sequence number. The wire format is JSON text frames over a WebSocket
connection: {"type": "subscribe|progress|verdict|error", ...}.
*/
package streaming
