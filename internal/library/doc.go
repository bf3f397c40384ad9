// Package library owns the destination libraries and their custom rules.
//
// Library definitions come from configuration and are synchronised into the
// database at startup so classification records, corrections, and batches can
// reference them by ID. Operators can enable or disable a library at runtime;
// the decision engine and the router both read the current state.
//
// Custom rules are a closed set of typed predicates evaluated by a single
// dispatch function (see Evaluate).
package library
