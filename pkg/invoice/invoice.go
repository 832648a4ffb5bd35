// Package invoice names and inspects downloaded billing documents.
package invoice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// filePrefix is the fixed part of every saved invoice name.
const filePrefix = "supabase-invoice-"

// Filename returns the dated target name for an invoice saved at t,
// supabase-invoice-YYYY-MM-DD.pdf in t's location.
func Filename(t time.Time) string {
	return filePrefix + t.Format("2006-01-02") + ".pdf"
}

// Path joins dir with the dated filename for t.
func Path(dir string, t time.Time) string {
	return filepath.Join(dir, Filename(t))
}

// Report describes a saved invoice.
type Report struct {
	PageCount   int
	FileSize    int64
	IsEncrypted bool
}

// Inspect reads the PDF at path and reports its page count and size.
func Inspect(path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat invoice: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}

	return &Report{
		PageCount:   pdfCtx.PageCount,
		FileSize:    info.Size(),
		IsEncrypted: pdfCtx.Encrypt != nil,
	}, nil
}
