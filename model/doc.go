// Package model defines the provider-agnostic abstractions for interacting
// with language models.
//
//   - Streaming and non-streaming generation behind a single interface
//   - Normalized tool definitions and forced tool choice
//   - Collect, which folds a generation into its final message
//   - MockModel, a scripted implementation for deterministic tests
//
// Providers (OpenAI, Anthropic) live in sub-packages so agents and flows stay
// decoupled from vendor SDKs.
package model
