// Package handler implements the per-request orchestration of the range
// proxy: validating the request, acquiring a cache store, planning which
// bytes come from cache versus the origin, and streaming the spliced
// result to the client while teeing freshly-fetched bytes into the store.
package handler
