package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Checksummer считает версионированные контрольные суммы вида "sha256:<hex>".
// Алгоритм входит в строку суммы, поэтому смена алгоритма не ломает старые записи.
type Checksummer interface {
	Calculate(data []byte) (string, error)
	CalculateReader(reader io.Reader) (string, error)
	Verify(data []byte, expectedChecksum string) (bool, error)
}

type checksummer struct {
	algorithm Algorithm
}

func New(algorithm Algorithm) Checksummer {
	return &checksummer{algorithm: algorithm}
}

func (c *checksummer) Calculate(data []byte) (string, error) {
	hasher, err := c.newHasher()
	if err != nil {
		return "", err
	}

	hasher.Write(data)
	return c.format(hasher.Sum(nil)), nil
}

func (c *checksummer) CalculateReader(reader io.Reader) (string, error) {
	hasher, err := c.newHasher()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	return c.format(hasher.Sum(nil)), nil
}

func (c *checksummer) Verify(data []byte, expectedChecksum string) (bool, error) {
	algorithm, _, err := Parse(expectedChecksum)
	if err != nil {
		return false, err
	}

	// Проверяем тем алгоритмом, которым сумма была посчитана
	verifier := &checksummer{algorithm: algorithm}
	calculated, err := verifier.Calculate(data)
	if err != nil {
		return false, err
	}

	return calculated == expectedChecksum, nil
}

func (c *checksummer) format(sum []byte) string {
	return fmt.Sprintf("%s:%s", c.algorithm, hex.EncodeToString(sum))
}

func (c *checksummer) newHasher() (hash.Hash, error) {
	return newHasher(c.algorithm)
}

func newHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// Verify — пакетная форма проверки: алгоритм берётся из самой суммы.
func Verify(data []byte, expectedChecksum string) (bool, error) {
	algorithm, _, err := Parse(expectedChecksum)
	if err != nil {
		return false, err
	}
	return (&checksummer{algorithm: algorithm}).Verify(data, expectedChecksum)
}

// Parse разбирает строку "algorithm:hex" и валидирует обе части.
func Parse(checksum string) (Algorithm, string, error) {
	parts := strings.SplitN(checksum, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed checksum: %q", checksum)
	}

	algorithm := Algorithm(parts[0])
	if _, err := newHasher(algorithm); err != nil {
		return "", "", err
	}

	if _, err := hex.DecodeString(parts[1]); err != nil {
		return "", "", fmt.Errorf("malformed checksum digest: %w", err)
	}

	return algorithm, parts[1], nil
}

func IsValid(checksum string) bool {
	_, _, err := Parse(checksum)
	return err == nil
}
