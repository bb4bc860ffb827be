// Package cmd provides the command-line interface for starhp.
//
// This package implements all CLI commands using the Cobra framework. Every
// command loads the configuration first, builds the compiler and, where it
// needs documents, the backend hierarchy described by the backend section.
//
// # Available Commands
//
//   - run: render a document from the backend or from stdin
//   - backend: inspect the backend and manage its caches
//   - watch: keep the caches of a directory backend fresh
//   - serve: render documents over HTTP, with --watch pushing changed names
//     to WebSocket clients of /_events
//   - version: show build information
//
// # Command Examples
//
//	// Render index.star with two arguments
//	starhp run index.star one two
//
//	// Render stdin
//	echo 'Hello <?star echo(1 + 1) ?>' | starhp run
//
//	// List the cached names as JSON
//	starhp backend list --cached -o json
//
//	// Collect stale cache entries
//	starhp backend gc
//
// # Exit Codes
//
//	0  success
//	1  any error
//	3  a cache command was used on a backend without cache
package cmd
