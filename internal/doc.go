// Package internal contains the implementation packages of starhp.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - compiler: parser, code builders, the Code type and its codec
//   - backends: sources and containers for directories, maps and zip files
//   - backends/caches: memory and file caches over timestamped containers
//   - hierarchy: layer registry and the builder stacking containers
//   - config: viper and HCL configuration with validation
//   - errors: typed engine errors and validation error collections
//   - logging: structured logging on log/slog
//   - watcher: file system monitoring with debouncing and cache invalidation
//   - websocket: change notifications for connected browsers
//   - server: HTTP rendering of backend documents
//   - version: build information
//
// # Data Flow
//
// The compiler turns document text into Code. Containers map names to
// sources yielding Code, and caches decorate containers to keep compiled
// Code around. The hierarchy builder assembles containers from the backend
// section of the configuration. The cmd package, the server and the watcher
// consume the resulting container.
//
// # Testing Strategy
//
// Packages use testify for table driven unit tests. Property tests built
// on gopter run with the property build tag, and the integration_tests
// directory holds end to end tests behind the integration build tag.
package internal
