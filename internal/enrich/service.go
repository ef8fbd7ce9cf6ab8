// Package enrich attaches product images fetched from an external provider.
// It mutates image fields only; stock and pricing stay untouched.
package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/scanstock/scanstock/internal/ledger"
)

const (
	maxCandidates   = 5
	maxDownloadSize = 5 << 20
	minImageDim     = 64
	thumbnailWidth  = 400
)

// Service downloads and stores product images.
type Service struct {
	repo     ledger.RepositoryPort
	provider Provider
	client   *http.Client
	dir      string
	logger   *slog.Logger
}

// NewService builds Service. dir is the storage root; images land under
// dir/products/.
func NewService(repo ledger.RepositoryPort, provider Provider, dir string, downloadTimeout time.Duration, logger *slog.Logger) *Service {
	if downloadTimeout <= 0 {
		downloadTimeout = 15 * time.Second
	}
	return &Service{
		repo:     repo,
		provider: provider,
		client:   &http.Client{Timeout: downloadTimeout},
		dir:      dir,
		logger:   logger,
	}
}

// AttachImage finds and stores an image for the product. Products that
// already carry an image, or have been deactivated since the task was
// queued, are skipped. Running out of usable candidates is not an error.
func (s *Service) AttachImage(ctx context.Context, productID int64, productName string) error {
	product, err := s.repo.GetProduct(ctx, productID)
	if errors.Is(err, ledger.ErrNotFound) {
		s.logger.Debug("enrichment target gone", slog.Int64("product_id", productID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enrich: load product: %w", err)
	}
	if !product.IsActive || product.ImageURL != "" || product.ImageLocalPath != "" {
		return nil
	}

	name := strings.TrimSpace(productName)
	if name == "" {
		name = product.Name
	}
	candidates, err := s.provider.SearchCandidates(ctx, name)
	if err != nil {
		return fmt.Errorf("enrich: search candidates: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Rank < candidates[j].Rank })
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	for _, candidate := range candidates {
		localPath, err := s.fetchAndStore(ctx, productID, candidate.ImageURL)
		if err != nil {
			s.logger.Debug("image candidate rejected",
				slog.Int64("product_id", productID),
				slog.String("url", candidate.ImageURL),
				slog.Any("error", err))
			continue
		}
		if err := s.repo.UpdateProductImage(ctx, productID, candidate.ImageURL, localPath); err != nil {
			return fmt.Errorf("enrich: store image path: %w", err)
		}
		s.logger.Info("product image attached",
			slog.Int64("product_id", productID),
			slog.String("source", candidate.Source))
		return nil
	}

	s.logger.Info("no usable image candidate",
		slog.Int64("product_id", productID),
		slog.Int("candidates", len(candidates)))
	return nil
}

// fetchAndStore downloads, validates and writes one candidate image,
// returning the stored path.
func (s *Service) fetchAndStore(ctx context.Context, productID int64, imageURL string) (string, error) {
	if imageURL == "" {
		return "", errors.New("empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxDownloadSize {
		return "", errors.New("image too large")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() < minImageDim || bounds.Dy() < minImageDim {
		return "", fmt.Errorf("image too small: %dx%d", bounds.Dx(), bounds.Dy())
	}
	if bounds.Dx() > thumbnailWidth {
		img = imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	}

	dir := filepath.Join(s.dir, "products")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	localPath := filepath.Join(dir, fmt.Sprintf("%d.jpg", productID))
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return "", err
	}
	if err := os.WriteFile(localPath, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return localPath, nil
}
