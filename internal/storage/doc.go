// Package storage persists the transition journal: one row per job state
// transition, queryable per job and prunable by age.
//
// The journal is observability data, not job state. The scheduler registry
// always starts empty; nothing is ever restored from here.
package storage
