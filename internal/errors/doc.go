// Package errors provides structured, actionable error messages for the
// syncline CLI and configuration loader.
//
// Each error has a unique code (e.g., "E101") that maps to a short
// message, a detailed explanation, and a documentation URL. Errors can
// carry the offending file location, a fix suggestion, and an example.
//
// # Usage
//
//	err := errors.New("E101").
//	    WithDetail("No syncline.yaml found in /srv/app").
//	    WithSuggestion("Create syncline.yaml or pass --config")
//
//	fmt.Println(err.Format())
//
// This package is for human-facing diagnostics at process startup; the
// engine's own error taxonomy lives in pkg/server and pkg/state.
package errors
