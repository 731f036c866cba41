// Package id provides unique identifier generation utilities.
//
// Two formats are in use:
//
//   - UUID: random v4 identifiers for users and conversations
//   - ULID: lexicographically sortable identifiers for messages, so that
//     listing messages by ID yields creation order
//
// ULIDs are generated from a monotonic entropy source guarded by a mutex,
// which keeps IDs strictly increasing within a single process.
package id
