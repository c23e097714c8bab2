package he

// Ciphertext is the opaque payload owned by a Provider. The unit never looks inside it;
// it only needs to be able to ship it over the wire.
type Ciphertext interface {
	MarshalBinary() ([]byte, error)
}

// Provider is the external HE library seen by the unit. Key material and scheme
// parameters are fixed when the provider is built.
//
// Slot convention: encrypting a single value produces a scalar that is broadcast to
// every slot, and SumReduce returns such a scalar. Vectors are zero-padded.
type Provider interface {
	Encrypt(values []float64) (Ciphertext, error)
	// Decrypt returns the first n plaintext slots.
	Decrypt(ct Ciphertext, n int) ([]float64, error)

	Add(a, b Ciphertext) (Ciphertext, error)
	Sub(a, b Ciphertext) (Ciphertext, error)
	Mul(a, b Ciphertext) (Ciphertext, error)
	MulScalar(a Ciphertext, c float64) (Ciphertext, error)
	// SumReduce sums the first n slots of a.
	SumReduce(a Ciphertext, n int) (Ciphertext, error)

	// Refresh renews the noise budget of a payload. Only the unit's Bootstrap calls it.
	Refresh(a Ciphertext) (Ciphertext, error)

	UnmarshalCiphertext(data []byte) (Ciphertext, error)
}
