// Package field owns the byte cursors every encoding layer reads and writes.
//
// Ownership boundary:
// - Writer: append-only frame buffer flushed to a stream in one write
// - Reader: buffered stream cursor with peek/unread for resynchronisation
// - fixed-width big-endian scalars
package field
