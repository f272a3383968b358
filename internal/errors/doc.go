// Package errors provides structured, actionable errors for the router.
//
// Every error carries a code from a fixed registry, a category and, when it
// concerns a build artifact, the file and position that caused it.
//
// # Error Categories
//
//   - startup: build output the process cannot serve without (R001-R019)
//   - config: invalid configuration (R020-R039)
//   - transport: middleware boundary and proxy failures (R040-R059)
//   - cli: command-line usage (R060-R069)
//
// Resolution misses are never errors; they surface as a nil item or a
// NoMatch decision.
//
// # Usage
//
//	err := errors.New("R003").
//	    WithOffset("routes-manifest.json", data, syntaxErr.Offset).
//	    WithSuggestion("Re-run the build")
//
//	errors.PrintError(err)
package errors
