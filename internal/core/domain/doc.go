// Package domain defines the core business entities for debatepipe.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A deduplicated source document and its per-stage state
//   - StageState: The lifecycle record of one (document, stage) pair
//   - PipelineDefinition: The validated, ordered chain of stages
//   - StageResult: The tagged outcome of an executor invocation
//   - Artefact: An immutable, versioned output unit of a stage
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
