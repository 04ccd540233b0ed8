// Package service holds the relay core: the connection registry, the room
// directory, the message router, and the lifecycle supervisor.
//
// The registry and directory are the only shared mutable state. Both are
// constructed once at startup and passed by handle into the router and
// supervisor; there are no package-level globals. Fan-out to several
// connections is best-effort, never transactional: each recipient has its
// own bounded outbound queue and a slow peer can only lose its own messages.
package service
