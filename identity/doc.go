// Package identity generates the opaque client identifiers an agent assigns
// to each controller that completes the init handshake.
//
// Identifiers are cryptographically random 128 bit numbers encoded in
// Base36, which keeps them short and fixed length:
//
// 	id := identity.NewID()
//
package identity
