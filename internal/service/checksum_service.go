package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/pkg/bundle"
	"github.com/jgwerner/nbexchange/pkg/hash"
)

// ChecksumService связывает канонизацию архива и контрольные суммы:
// одинаковый набор тетрадей всегда даёт одинаковую сумму, независимо от
// порядка перечисления на входе.
type ChecksumService interface {
	// Canonicalize перепаковывает произвольный tar-архив тетрадей в
	// каноническую форму и возвращает архив, его сумму и суммы тетрадей.
	Canonicalize(payload []byte) ([]byte, string, []models.NotebookRef, error)
	Calculate(data []byte) (string, error)
	Algorithm() string
}

type checksumService struct {
	algorithm hash.Algorithm
	hasher    hash.Checksummer
}

func NewChecksumService(algorithm string) (ChecksumService, error) {
	alg := hash.Algorithm(strings.ToLower(algorithm))
	hasher := hash.New(alg)

	// Ранняя проверка, что алгоритм поддержан
	if _, err := hasher.Calculate(nil); err != nil {
		return nil, err
	}

	return &checksumService{
		algorithm: alg,
		hasher:    hasher,
	}, nil
}

func (s *checksumService) Canonicalize(payload []byte) ([]byte, string, []models.NotebookRef, error) {
	notebooks, err := bundle.Unpack(payload)
	if err != nil {
		return nil, "", nil, err
	}
	sort.Slice(notebooks, func(i, j int) bool { return notebooks[i].Name < notebooks[j].Name })

	archive, err := bundle.Pack(notebooks)
	if err != nil {
		return nil, "", nil, err
	}

	checksum, err := s.hasher.Calculate(archive)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to hash bundle: %w", err)
	}

	refs := make([]models.NotebookRef, 0, len(notebooks))
	for _, nb := range notebooks {
		nbChecksum, err := s.hasher.Calculate(nb.Content)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to hash notebook %s: %w", nb.Name, err)
		}
		refs = append(refs, models.NotebookRef{Name: nb.Name, Checksum: nbChecksum})
	}

	return archive, checksum, refs, nil
}

func (s *checksumService) Calculate(data []byte) (string, error) {
	return s.hasher.Calculate(data)
}

func (s *checksumService) Algorithm() string {
	return string(s.algorithm)
}
