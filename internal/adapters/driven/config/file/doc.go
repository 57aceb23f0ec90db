// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML configuration with dotted-key access
//   - PromptStore: editable prompt templates for LLM-backed stages
//   - BlobStore: content-addressed artefact bytes under the data directory
package file
