package password

// Hasher hashes secrets with a slow, salted, adaptive function.
//
// Compare returns (true, nil) on match, (false, nil) on mismatch and
// (false, ErrInvalidHash) when the stored hash is malformed.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(secret, hashed string) (bool, error)
}

// Algorithm names a Hasher implementation.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// NewHasher builds the Hasher selected by cfg.Algorithm.
func NewHasher(cfg Config) (Hasher, error) {
	switch cfg.Algorithm {
	case AlgorithmBcrypt, "":
		return NewBcrypt(cfg.BcryptCost)
	case AlgorithmArgon2id:
		return NewArgon2id(cfg.Params), nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}
