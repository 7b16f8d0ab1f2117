// Package extraction turns arbitrary JSON responses into flat records.
//
// Resolve walks dot/bracket paths ("data.items[0].name"), Coercer converts
// resolved values to declared data types under a null-value policy, and
// Extractor combines both over the root array of a response. Transform
// scripts run through TransformRegistry, which only knows registered Go
// functions and govaluate expressions.
package extraction
