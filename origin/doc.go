// Package origin fetches byte ranges from the upstream resource a proxied
// URL points at. It knows nothing about caching; it only issues Range GETs
// and reports what the origin said.
package origin
