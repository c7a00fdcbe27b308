// Package encoding owns the composable packet codec.
//
// A codec is a chain of layers built by a Builder. Each decorator registered on the
// builder wraps everything registered before it, so the last registered layer is the
// outermost one. Prefix-form layers (header, function, descendant) write their bytes and
// then delegate to the inner layer; trailer-form layers (property, timestamp) delegate
// first and write after. A chain written Header -> Function -> base is therefore built as
//
//	NewBuilder().
//		WithFunction(2, 2, newLight).
//		WithHeader([]byte{0xAA, 0x55}).
//		Build()
//
// and puts the header bytes first on the wire.
//
// Ownership boundary:
// - layer catalog and chain lookup
// - builder
// - framing/contract errors
package encoding
