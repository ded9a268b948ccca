package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"storyforge/internal/storage"
)

// Assembler renders a sequence of finished page images into a single
// paginated PDF and stores it durably.
type Assembler struct {
	Store *storage.FileStore
}

// Assemble fetches every image URL in order, imports each as one PDF page
// and writes the result under key, returning the document URL.
func (a *Assembler) Assemble(ctx context.Context, imageURLs []string, key string) (string, error) {
	if len(imageURLs) == 0 {
		return "", fmt.Errorf("assemble: no pages")
	}

	tmpDir, err := os.MkdirTemp("", "assemble-*")
	if err != nil {
		return "", fmt.Errorf("assemble: temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	imgFiles := make([]string, 0, len(imageURLs))
	for i, url := range imageURLs {
		data, err := a.Store.Fetch(ctx, url)
		if err != nil {
			return "", fmt.Errorf("assemble: fetch page %d: %w", i+1, err)
		}
		path := filepath.Join(tmpDir, fmt.Sprintf("page-%02d.png", i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("assemble: stage page %d: %w", i+1, err)
		}
		imgFiles = append(imgFiles, path)
	}

	imp, err := api.Import("form:A4, pos:c, scale:1.0 rel", types.POINTS)
	if err != nil {
		return "", fmt.Errorf("assemble: import params: %w", err)
	}
	conf := model.NewDefaultConfiguration()

	outPath := filepath.Join(tmpDir, "book.pdf")
	if err := api.ImportImagesFile(imgFiles, outPath, imp, conf); err != nil {
		return "", fmt.Errorf("assemble: render pdf: %w", err)
	}

	pdf, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("assemble: read pdf: %w", err)
	}
	url, err := a.Store.Write(ctx, key, pdf)
	if err != nil {
		return "", fmt.Errorf("assemble: store pdf: %w", err)
	}
	return url, nil
}
