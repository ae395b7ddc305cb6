// Package tempstore manages the lifecycle of the scratch files a job
// creates: downloaded inputs, concat lists and ffmpeg outputs.
//
// Paths come from a Store and are grouped per request in a Scope:
//
//	scope := store.NewScope()
//	defer scope.Release()
//
//	input := scope.Allocate("input", "mp4")
//	output := scope.Allocate("audio", "mp3")
//
// Release deletes every path the scope allocated, in reverse order, and
// tolerates paths that were never written. Sweep removes leftovers from a
// previous process at startup and shutdown; it only touches files that
// follow the Store's naming scheme.
package tempstore
