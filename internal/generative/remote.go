package generative

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"banana-mall/internal/catalog"
	"banana-mall/internal/gemini"
	"banana-mall/internal/model"
)

// Remote talks to the generateContent API. Every failure past input
// validation is logged and answered by the embedded mock.
type Remote struct {
	api        *gemini.Client
	mock       *Mock
	catalog    *catalog.Catalog
	imageModel string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewRemote(settings model.AppSettings, deps Deps, fallback *Mock) *Remote {
	deps = deps.withDefaults()
	if fallback == nil {
		fallback = NewMock(MockOptions{Delay: deps.MockDelay, Catalog: deps.Catalog})
	}
	return &Remote{
		api: gemini.New(gemini.Options{
			APIKey:     strings.TrimSpace(settings.APIKey),
			BaseURL:    settings.BaseURL,
			APIVersion: deps.APIVersion,
			HTTPClient: deps.HTTPClient,
			Logger:     deps.Logger,
		}),
		mock:       fallback,
		catalog:    deps.Catalog,
		imageModel: ImageModel(settings.SelectedModel),
		timeout:    deps.Timeout,
		logger:     deps.Logger,
	}
}

func (r *Remote) AnalyzeProduct(ctx context.Context, image []byte, mimeType string) (model.ProductAnalysis, error) {
	if err := validateImage(image, mimeType); err != nil {
		return model.ProductAnalysis{}, err
	}

	analysis, err := r.analyze(ctx, image, mimeType)
	if err != nil {
		r.fallback("analyze_product", err)
		return r.mock.AnalyzeProduct(ctx, image, mimeType)
	}
	return analysis, nil
}

func (r *Remote) analyze(ctx context.Context, image []byte, mimeType string) (model.ProductAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.api.Generate(ctx, gemini.Request{
		Model: gemini.ModelText,
		Parts: []gemini.Part{
			{Image: &gemini.InlineImage{MimeType: mimeType, DataBase64: base64.StdEncoding.EncodeToString(image)}},
			{Text: analyzePrompt},
		},
	})
	if err != nil {
		return model.ProductAnalysis{}, err
	}

	var analysis model.ProductAnalysis
	if err := gemini.DecodeJSON(resp.Text, &analysis); err != nil {
		return model.ProductAnalysis{}, err
	}
	if strings.TrimSpace(analysis.Category) == "" {
		return model.ProductAnalysis{}, &gemini.ShapeError{Raw: resp.Text, Err: errors.New("category missing")}
	}
	return analysis, nil
}

func (r *Remote) GenerateText(ctx context.Context, req TextRequest) (model.Texts, error) {
	texts, err := r.generateText(ctx, req)
	if err != nil {
		r.fallback("generate_text", err)
		return r.mock.GenerateText(ctx, req)
	}
	return texts, nil
}

func (r *Remote) generateText(ctx context.Context, req TextRequest) (model.Texts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.api.Generate(ctx, gemini.Request{
		Model: gemini.ModelText,
		Parts: []gemini.Part{{Text: buildTextPrompt(r.catalog, req)}},
	})
	if err != nil {
		return model.Texts{}, err
	}

	var texts model.Texts
	if err := gemini.DecodeJSON(resp.Text, &texts); err != nil {
		return model.Texts{}, err
	}
	if strings.TrimSpace(texts.Title) == "" {
		return model.Texts{}, &gemini.ShapeError{Raw: resp.Text, Err: errors.New("title missing")}
	}
	return texts, nil
}

func (r *Remote) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := validatePrompt(req.Prompt); err != nil {
		return "", err
	}

	ref, err := r.image(ctx, gemini.Request{
		Model:              r.imageModel,
		Parts:              []gemini.Part{{Text: r.catalog.ImagePrompt(req.Prompt, req.Style, req.Platform, req.Language)}},
		ResponseModalities: []string{"IMAGE"},
		AspectRatio:        generateAspectRatio(req.Kind),
	})
	if err != nil {
		r.fallback("generate_image", err)
		return r.mock.GenerateImage(ctx, req)
	}
	return ref, nil
}

func (r *Remote) EditImage(ctx context.Context, req EditRequest) (string, error) {
	if err := validateImage(req.Image, req.MimeType); err != nil {
		return "", err
	}
	if err := validatePrompt(req.Prompt); err != nil {
		return "", err
	}

	parts := []gemini.Part{
		{Image: &gemini.InlineImage{MimeType: req.MimeType, DataBase64: base64.StdEncoding.EncodeToString(req.Image)}},
	}
	if len(req.Mask) > 0 {
		parts = append(parts, gemini.Part{Image: &gemini.InlineImage{MimeType: "image/png", DataBase64: base64.StdEncoding.EncodeToString(req.Mask)}})
	}
	parts = append(parts, gemini.Part{Text: req.Prompt})

	ref, err := r.image(ctx, gemini.Request{
		Model:              r.imageModel,
		Parts:              parts,
		ResponseModalities: []string{"IMAGE"},
		AspectRatio:        editAspectRatio(req),
	})
	if err != nil {
		r.fallback("edit_image", err)
		return r.mock.EditImage(ctx, req)
	}
	return ref, nil
}

func (r *Remote) image(ctx context.Context, req gemini.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.api.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Images) == 0 {
		return "", gemini.ErrEmptyResponse
	}
	return resp.Images[0].DataURL(), nil
}

// CompleteJSON runs a JSON-mode text completion under the per-call timeout.
// Unlike the other operations it reports failures so the caller can choose
// its own substitute.
func (r *Remote) CompleteJSON(ctx context.Context, modelID, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.api.CompleteJSON(ctx, modelID, prompt)
}

func (r *Remote) fallback(op string, err error) {
	r.logger.Warn("remote call failed, using mock result", "op", op, "err", err)
}
