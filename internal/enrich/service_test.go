package enrich

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/ledger/ledgertest"
)

type fakeProvider struct {
	candidates []Candidate
	err        error
	queries    []string
}

func (p *fakeProvider) SearchCandidates(ctx context.Context, productName string) ([]Candidate, error) {
	p.queries = append(p.queries, productName)
	return p.candidates, p.err
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func imageServer(t *testing.T, responses map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, repo ledger.RepositoryPort, provider Provider) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, provider, t.TempDir(), time.Second, logger)
}

func TestAttachImageStoresFirstUsableCandidate(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{ID: 1, Name: "Widget", IsActive: true})

	server := imageServer(t, map[string][]byte{
		"/broken.jpg": []byte("not an image"),
		"/good.jpg":   encodeJPEG(t, 640, 480),
	})
	provider := &fakeProvider{candidates: []Candidate{
		{ImageURL: server.URL + "/broken.jpg", Rank: 1},
		{ImageURL: server.URL + "/good.jpg", Rank: 2},
	}}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))

	product := repo.Products[0]
	require.Equal(t, server.URL+"/good.jpg", product.ImageURL)
	require.NotEmpty(t, product.ImageLocalPath)
	data, err := os.ReadFile(product.ImageLocalPath)
	require.NoError(t, err)
	stored, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.LessOrEqual(t, stored.Bounds().Dx(), thumbnailWidth)
}

func TestAttachImageRejectsTinyImages(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{ID: 1, Name: "Widget", IsActive: true})

	server := imageServer(t, map[string][]byte{
		"/tiny.jpg": encodeJPEG(t, 16, 16),
	})
	provider := &fakeProvider{candidates: []Candidate{{ImageURL: server.URL + "/tiny.jpg"}}}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))
	require.Empty(t, repo.Products[0].ImageURL)
	require.Empty(t, repo.Products[0].ImageLocalPath)
}

func TestAttachImageSkipsWhenImagePresent(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{
		ID: 1, Name: "Widget", IsActive: true, ImageURL: "https://example.com/w.jpg",
	})
	provider := &fakeProvider{}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))
	require.Empty(t, provider.queries, "provider must not be queried")
}

func TestAttachImageSkipsInactive(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{ID: 1, Name: "Widget", IsActive: false})
	provider := &fakeProvider{}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))
	require.Empty(t, provider.queries)
}

func TestAttachImageMissingProduct(t *testing.T) {
	repo := ledgertest.New()
	provider := &fakeProvider{}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 42, "Widget"))
	require.Empty(t, provider.queries)
}

func TestAttachImageExhaustedCandidates(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{ID: 1, Name: "Widget", IsActive: true})

	server := imageServer(t, nil)
	provider := &fakeProvider{candidates: []Candidate{
		{ImageURL: server.URL + "/missing1.jpg"},
		{ImageURL: server.URL + "/missing2.jpg"},
	}}
	svc := newTestService(t, repo, provider)

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))
	require.Empty(t, repo.Products[0].ImageURL)
}

func TestAttachImageCapsCandidates(t *testing.T) {
	repo := ledgertest.New()
	repo.Products = append(repo.Products, ledger.Product{ID: 1, Name: "Widget", IsActive: true})

	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{ImageURL: server.URL, Rank: i})
	}
	svc := newTestService(t, repo, &fakeProvider{candidates: candidates})

	require.NoError(t, svc.AttachImage(context.Background(), 1, "Widget"))
	require.Equal(t, maxCandidates, hits)
}
