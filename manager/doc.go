// Package manager owns the registry of open chunkstore.Stores, one per
// URL fingerprint, and the eviction policy that keeps their combined size
// under a configured budget.
//
// Concurrent first-requests for the same URL are coalesced with
// golang.org/x/sync/singleflight so only one probe to the origin happens
// per fingerprint at a time; every caller waiting on that fingerprint
// observes the same resolved store.
package manager
