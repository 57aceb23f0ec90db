// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - StateStore: Durable document and stage lifecycle persistence
//   - ArtefactCache: Versioned per-unit stage outputs
//   - StageExecutor: Runs one stage for one document
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - Scraper: Without it, sync has nothing to ingest.
//   - EmbeddingService: Without it, the topic stage cannot be built.
//   - LLMService: Without it, prompt executors cannot be built.
//   - PipelineMetrics: Without it, outcomes are only logged.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or executor package
package driven
