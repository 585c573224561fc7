// Package textutil turns user-supplied job names and prompts into filesystem
// tokens and display excerpts.
package textutil
