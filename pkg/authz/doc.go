// Package authz gates GraphQL field resolution with composable rules.
//
// A Rule is either an Atomic predicate or the conjunction of two rules. The
// Table maps "Type.field" coordinates to rules by exact match; fields absent
// from the table are open. A Gate evaluates the rule for a field before its
// resolver runs and rejects with ErrNotAuthorized when the rule does not pass.
// Predicate errors count as a rejection.
package authz
