package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Notebook — одна тетрадь внутри архива. Содержимое не интерпретируется.
type Notebook struct {
	Name    string
	Content []byte
}

var (
	ErrEmptyBundle  = errors.New("bundle contains no notebooks")
	ErrMalformed    = errors.New("malformed bundle archive")
	ErrUnsafeName   = errors.New("unsafe notebook name")
	ErrDuplicateKey = errors.New("duplicate notebook name")
)

// Pack собирает канонический tar-архив: записи отсортированы по имени,
// метаданные заголовков обнулены. Один и тот же набор тетрадей всегда
// даёт байт-в-байт одинаковый архив независимо от порядка на входе.
func Pack(notebooks []Notebook) ([]byte, error) {
	if len(notebooks) == 0 {
		return nil, ErrEmptyBundle
	}

	sorted := make([]Notebook, len(notebooks))
	copy(sorted, notebooks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	seen := make(map[string]struct{}, len(sorted))
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, nb := range sorted {
		if err := validateName(nb.Name); err != nil {
			return nil, err
		}
		if _, ok := seen[nb.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, nb.Name)
		}
		seen[nb.Name] = struct{}{}

		header := &tar.Header{
			Name:     nb.Name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(nb.Content)),
			Format:   tar.FormatUSTAR,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write bundle header: %w", err)
		}
		if _, err := tw.Write(nb.Content); err != nil {
			return nil, fmt.Errorf("failed to write bundle entry: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize bundle: %w", err)
	}

	return buf.Bytes(), nil
}

// Unpack читает tar-архив обратно в набор тетрадей.
func Unpack(data []byte) ([]Notebook, error) {
	tr := tar.NewReader(bytes.NewReader(data))

	var notebooks []Notebook
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := validateName(header.Name); err != nil {
			return nil, err
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		notebooks = append(notebooks, Notebook{Name: header.Name, Content: content})
	}

	if len(notebooks) == 0 {
		return nil, ErrEmptyBundle
	}

	return notebooks, nil
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || path.Clean(name) != name || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}
