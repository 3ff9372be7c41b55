// Package encoding converts typed values into document bodies and back.
// The format is stored in the top byte of the document flags.
package encoding
