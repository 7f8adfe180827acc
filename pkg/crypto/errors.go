package crypto

import "errors"

var (
	// ErrInvalidEncoding indicates malformed key or signature bytes. Rejected
	// locally, before any registry lookup.
	ErrInvalidEncoding = errors.New("invalid key or signature encoding")

	// ErrInvalidSignature indicates a signature that fails verification
	// against the resolved public key.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrIdentityMismatch indicates a registration whose claimed agent ID does
	// not equal the ID derived from its public key.
	ErrIdentityMismatch = errors.New("claimed identifier does not match derived identifier")
)
