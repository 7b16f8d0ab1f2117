// Package pipeline contains the ingestion pipeline bounded context.
//
// A pipeline is a chain of definitions: a Source (base URL and auth), a
// Request template, an Extract (JSON path rules turning a response into
// records), a Destination table and a Schedule binding them to a cadence.
// The definitions are managed elsewhere; this package models them, the
// bookkeeping the execution engine writes back, and the ports the engine
// depends on:
//   - DefinitionStore: read definitions, persist execution bookkeeping
//   - TokenCache: shared cache of bearer tokens keyed by token config id
//   - HTTPSender: performs outbound HTTP calls
//
// Adapters for these ports live in the infrastructure layer.
package pipeline
