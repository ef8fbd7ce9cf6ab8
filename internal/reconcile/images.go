package reconcile

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/scanstock/scanstock/internal/ledger"
)

// PageStore persists embedded invoice page images to durable file storage
// under deterministic names derived from the request id and page number.
// Image I/O happens before the transaction begins and is never part of the
// atomic unit: a failed page degrades to "no image" for that page.
type PageStore struct {
	dir    string
	logger *slog.Logger
}

// NewPageStore constructs a PageStore rooted at dir.
func NewPageStore(dir string, logger *slog.Logger) *PageStore {
	return &PageStore{dir: dir, logger: logger}
}

// SavePages writes each embedded page and returns rows for the pages that
// were persisted. Per-page failures are logged and skipped.
func (s *PageStore) SavePages(requestID string, pages []PageImage) []ledger.InvoiceImage {
	if s == nil || len(pages) == 0 {
		return nil
	}
	invoiceDir := filepath.Join(s.dir, "invoices")
	if err := os.MkdirAll(invoiceDir, 0o755); err != nil {
		s.logger.Warn("create invoice image dir", slog.Any("error", err))
		return nil
	}
	var saved []ledger.InvoiceImage
	for i, page := range pages {
		pageNumber := page.PageNumber
		if pageNumber <= 0 {
			pageNumber = i + 1
		}
		data, err := decodeBase64Image(page.Base64)
		if err != nil {
			s.logger.Warn("decode invoice page",
				slog.String("request_id", requestID),
				slog.Int("page", pageNumber),
				slog.Any("error", err))
			continue
		}
		name := fmt.Sprintf("%s_p%d%s", sanitizeName(requestID), pageNumber, extForMime(page.MimeType))
		if err := os.WriteFile(filepath.Join(invoiceDir, name), data, 0o644); err != nil {
			s.logger.Warn("write invoice page",
				slog.String("request_id", requestID),
				slog.Int("page", pageNumber),
				slog.Any("error", err))
			continue
		}
		saved = append(saved, ledger.InvoiceImage{
			ImagePath:  filepath.Join("invoices", name),
			PageNumber: pageNumber,
			ImageType:  page.MimeType,
		})
	}
	return saved
}

func decodeBase64Image(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty payload")
	}
	// data URI prefixes arrive from some client versions.
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func extForMime(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
