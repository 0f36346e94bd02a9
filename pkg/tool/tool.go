// Package tool defines the interfaces for tools exposed to the agent runtime.
//
// A Tool executes a single named operation. A Provider supplies a set of
// tools from an external source, such as an MCP server, and can fail as a
// unit when the source is unreachable.
package tool

import "context"

// Tool is a single callable operation.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by LLMs to decide when to use this tool.
	Description() string

	// Schema returns the JSON schema for the tool's parameters.
	// Returns nil if the tool takes no parameters.
	Schema() map[string]any

	// Call executes the tool with the given arguments and returns the
	// textual result. Blocking; honors ctx cancellation.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Provider supplies tools from an external source.
//
// Listing can fail as a unit (source unreachable, expired credentials); such
// failures surface to the failover supervisor with the provider's identity
// attached.
type Provider interface {
	// Name returns the provider identifier used when disabling it.
	Name() string

	// Label returns the human-readable name used in client-facing messages.
	Label() string

	// Tools lists the provider's tools. Errors carry the provider identity.
	Tools(ctx context.Context) ([]Tool, error)

	// Close releases the provider's resources.
	Close() error
}
