// Package agent defines the contract every record-keeping agent implements,
// the registry that holds built-in and data-driven agents, and the router
// that decides which agent a chat message is addressed to.
package agent
