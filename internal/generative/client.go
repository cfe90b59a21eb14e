package generative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"banana-mall/internal/catalog"
	"banana-mall/internal/gemini"
	"banana-mall/internal/model"
)

// ErrInvalidInput marks local input problems. It is the only error the
// clients return; remote failures are replaced by mock results.
var ErrInvalidInput = errors.New("invalid input")

// Client is the capability shared by the remote and mock implementations.
type Client interface {
	AnalyzeProduct(ctx context.Context, image []byte, mimeType string) (model.ProductAnalysis, error)
	GenerateText(ctx context.Context, req TextRequest) (model.Texts, error)
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
	EditImage(ctx context.Context, req EditRequest) (string, error)
}

type TextRequest struct {
	Product   model.Product
	Platform  model.Platform
	Style     model.Style
	Language  model.Language
	BrandName string
	ExtraInfo string
}

type ImageRequest struct {
	Prompt   string
	Style    model.Style
	Platform model.Platform
	Language model.Language
	Kind     model.ImageKind
}

type EditRequest struct {
	Image    []byte
	MimeType string
	Prompt   string
	Mask     []byte
	// AspectRatio overrides the ratio detected from the prompt.
	AspectRatio string
	Kind        model.ImageKind
}

type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Catalog    *catalog.Catalog
	APIVersion string
	// Timeout bounds each remote call. Expiry counts as a transport failure.
	Timeout time.Duration
	// MockDelay is the base unit of the mock's artificial latency.
	MockDelay time.Duration
}

const defaultCallTimeout = 120 * time.Second

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultCallTimeout
	}
	return d
}

// Select returns the mock when no credential is configured and the remote
// client otherwise.
func Select(settings model.AppSettings, deps Deps) Client {
	deps = deps.withDefaults()
	mock := NewMock(MockOptions{Delay: deps.MockDelay, Catalog: deps.Catalog})
	if strings.TrimSpace(settings.APIKey) == "" {
		deps.Logger.Debug("no API key configured, using mock client")
		return mock
	}
	return NewRemote(settings, deps, mock)
}

// ImageModel maps the user-facing model choice to the image model id.
func ImageModel(m model.Model) string {
	if m == model.ModelNanaBanana {
		return gemini.ModelImagePro
	}
	return gemini.ModelImage
}

func validateImage(image []byte, mimeType string) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return fmt.Errorf("%w: %q is not an image type", ErrInvalidInput, mimeType)
	}
	return nil
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidInput)
	}
	return nil
}

func editAspectRatio(req EditRequest) string {
	if ar := catalog.NormalizeAspectRatio(req.AspectRatio); ar != "" {
		return ar
	}
	if ar := catalog.DetectAspectRatio(req.Prompt); ar != "" {
		return ar
	}
	return "1:1"
}

func generateAspectRatio(kind model.ImageKind) string {
	if kind == model.KindDetail {
		return "3:4"
	}
	return "1:1"
}
