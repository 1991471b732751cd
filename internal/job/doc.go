// Package job implements the in-process scheduler core: per-job lifecycle
// state, the registry owning membership and id allocation, and the two
// worker pools ("standard", "timeConsuming") that execute admitted units.
//
// Locks nest registry → job and never the reverse. Transition notifications
// fire while the job lock is held, so a notification sink must never call
// back into the scheduler or the job.
package job
