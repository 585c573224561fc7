// Package frames extracts the final decodable frame of a rendered segment so it
// can seed the next segment's render.
package frames
