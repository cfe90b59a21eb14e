// Package app holds the state of one user workspace and the actions the
// wizard screens perform on it.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"banana-mall/internal/catalog"
	"banana-mall/internal/detailpage"
	"banana-mall/internal/export"
	"banana-mall/internal/generative"
	"banana-mall/internal/imageconv"
	"banana-mall/internal/model"
	"banana-mall/internal/pipeline"
	"banana-mall/internal/store"
)

var (
	ErrNotImage       = errors.New("please upload an image file")
	ErrNoProduct      = errors.New("no product uploaded")
	ErrNoResult       = errors.New("nothing generated yet")
	ErrImageNotFound  = errors.New("image not found")
	ErrSpecOutOfRange = errors.New("specification index out of range")
	ErrEmptyPrompt    = errors.New("prompt is empty")
)

// maxTags is how many specifications become product tags.
const maxTags = 5

type Options struct {
	Store    *store.Store
	Deps     generative.Deps
	Exporter *export.Exporter
	Catalog  *catalog.Catalog
	Logger   *slog.Logger
}

// App is one workspace: the uploaded product, the generation in progress
// and the persisted settings, history and current result.
type App struct {
	store    *store.Store
	deps     generative.Deps
	exporter *export.Exporter
	catalog  *catalog.Catalog
	logger   *slog.Logger
	pipeline *pipeline.Pipeline

	mu      sync.Mutex
	product *model.Product
	active  *pipeline.Run
}

func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("app: store is required")
	}
	a := &App{
		store:    opts.Store,
		deps:     opts.Deps,
		exporter: opts.Exporter,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
	}
	if a.catalog == nil {
		a.catalog = catalog.Default()
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.deps.Catalog == nil {
		a.deps.Catalog = a.catalog
	}
	if a.deps.Logger == nil {
		a.deps.Logger = a.logger
	}
	if a.exporter == nil {
		a.exporter = export.New(export.ExporterOptions{HTTPClient: a.deps.HTTPClient, Logger: a.logger})
	}
	a.pipeline = pipeline.New(pipeline.Options{
		Store:    a.store,
		Backends: a.backends,
		Catalog:  a.catalog,
		Logger:   a.logger,
	})
	return a, nil
}

// backends binds the generation services to a settings snapshot. The
// detail generator only gets a completer when the remote client is in use.
func (a *App) backends(settings model.AppSettings) pipeline.Backends {
	client := generative.Select(settings, a.deps)
	var completer detailpage.Completer
	if remote, ok := client.(*generative.Remote); ok {
		completer = remote
	}
	return pipeline.Backends{
		Client: client,
		Detail: detailpage.New(completer, detailpage.Options{Catalog: a.catalog, Logger: a.logger}),
	}
}

func (a *App) Settings() model.AppSettings { return a.store.Settings() }

// Configure saves the wizard's choices into the settings.
func (a *App) Configure(ctx context.Context, patch store.SettingsPatch) (model.AppSettings, error) {
	return a.store.SaveSettings(ctx, patch)
}

// Upload analyzes a product photo and makes it the active product. An
// empty mime type is sniffed from the bytes.
func (a *App) Upload(ctx context.Context, data []byte, mimeType string) (model.Product, error) {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = imageconv.DetectMIME(data)
	}
	if len(data) == 0 || !strings.HasPrefix(mimeType, "image/") {
		return model.Product{}, ErrNotImage
	}

	analysis, err := a.backends(a.store.Settings()).Client.AnalyzeProduct(ctx, data, mimeType)
	if err != nil {
		return model.Product{}, fmt.Errorf("analyze product: %w", err)
	}

	tags := analysis.Specifications
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	product := model.Product{
		ID:            uuid.NewString(),
		Image:         imageconv.EncodeDataURL(mimeType, data),
		ImageBase64:   base64.StdEncoding.EncodeToString(data),
		ImageMimeType: mimeType,
		Category:      analysis.Category,
		Tags:          append([]string(nil), tags...),
		Analysis:      &analysis,
	}

	a.mu.Lock()
	a.product = &product
	a.mu.Unlock()
	a.logger.Info("product analyzed", "product_id", product.ID, "category", product.Category)
	return product, nil
}

func (a *App) Product() (model.Product, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.product == nil {
		return model.Product{}, false
	}
	return *a.product, true
}

// Generate starts the pipeline for the active product with the current
// settings. Calling it again with the same request id returns the run
// already started for it.
func (a *App) Generate(ctx context.Context, requestID string, progress pipeline.ProgressFunc) (*pipeline.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked(ctx, requestID, progress)
}

// GenerateIfIdle is Generate unless a run is still in progress, in which
// case that run is returned with started false. Check and start happen
// under one lock, so concurrent callers start at most one run.
func (a *App) GenerateIfIdle(ctx context.Context, requestID string, progress pipeline.ProgressFunc) (run *pipeline.Run, started bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil && !a.active.State().Terminal() {
		return a.active, false, nil
	}
	run, err = a.startLocked(ctx, requestID, progress)
	if err != nil {
		return nil, false, err
	}
	return run, true, nil
}

func (a *App) startLocked(ctx context.Context, requestID string, progress pipeline.ProgressFunc) (*pipeline.Run, error) {
	if requestID != "" {
		if run, ok := a.pipeline.Lookup(requestID); ok {
			return run, nil
		}
	}
	if a.product == nil {
		return nil, ErrNoProduct
	}
	run := a.pipeline.Start(ctx, pipeline.Request{
		ID:       requestID,
		Product:  *a.product,
		Settings: a.store.Settings(),
	}, progress)
	a.active = run
	return run, nil
}

// Active returns the most recently started run.
func (a *App) Active() (*pipeline.Run, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.active != nil
}

// Cancel stops the active run, if any. It reports whether there was one
// still running.
func (a *App) Cancel() bool {
	run, ok := a.Active()
	if !ok || run.State().Terminal() {
		return false
	}
	run.Cancel()
	return true
}

// Forget releases a finished run so a new generation can reuse its id.
func (a *App) Forget(requestID string) {
	a.pipeline.Forget(requestID)
}

func (a *App) Current() (model.GeneratedContent, bool) {
	return a.store.CurrentResult()
}

// TextEdit changes the copy of the current result. Nil fields are kept.
type TextEdit struct {
	Title       *string
	Description *string
	// Specs replaces specifications by zero-based index.
	Specs map[int]string
}

func (a *App) EditTexts(ctx context.Context, edit TextEdit) (model.Texts, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, ok := a.store.CurrentResult()
	if !ok {
		return model.Texts{}, ErrNoResult
	}
	if edit.Title != nil {
		content.Texts.Title = *edit.Title
	}
	if edit.Description != nil {
		content.Texts.Description = *edit.Description
	}
	for i, v := range edit.Specs {
		if i < 0 || i >= len(content.Texts.Specifications) {
			return model.Texts{}, fmt.Errorf("%w: %d", ErrSpecOutOfRange, i+1)
		}
		content.Texts.Specifications[i] = v
	}
	if err := a.store.SaveCurrentResult(ctx, &content); err != nil {
		return model.Texts{}, err
	}
	return content.Texts, nil
}

// RegenerateImage redraws one image from the version currently shown,
// replacing it under the same id.
func (a *App) RegenerateImage(ctx context.Context, imageID, prompt string) (model.GeneratedImage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return model.GeneratedImage{}, ErrEmptyPrompt
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	content, ok := a.store.CurrentResult()
	if !ok {
		return model.GeneratedImage{}, ErrNoResult
	}
	img, idx, ok := content.Image(imageID)
	if !ok {
		return model.GeneratedImage{}, fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
	}

	source, err := imageconv.Resolve(ctx, a.deps.HTTPClient, img.URL)
	if err != nil {
		return model.GeneratedImage{}, fmt.Errorf("load image %s: %w", imageID, err)
	}
	req := generative.EditRequest{
		Image:    source,
		MimeType: imageconv.DetectMIME(source),
		Prompt:   prompt,
		Kind:     img.Type,
	}
	if img.Type == model.KindDetail {
		req.AspectRatio = "3:4"
	}
	url, err := a.backends(a.store.Settings()).Client.EditImage(ctx, req)
	if err != nil {
		return model.GeneratedImage{}, fmt.Errorf("redraw %s: %w", imageID, err)
	}

	img.URL = url
	img.Prompt = prompt
	content.Images[idx] = img
	if err := a.store.SaveCurrentResult(ctx, &content); err != nil {
		return model.GeneratedImage{}, err
	}
	a.logger.Info("image redrawn", "image_id", imageID)
	return img, nil
}

func (a *App) Histories() []model.GenerationHistory { return a.store.Histories() }

// LoadHistory reopens a history entry as the current result.
func (a *App) LoadHistory(ctx context.Context, id string) (model.GeneratedContent, error) {
	entry, ok := a.store.History(id)
	if !ok {
		return model.GeneratedContent{}, store.ErrHistoryNotFound
	}
	content := entry.GeneratedContent

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.SaveCurrentResult(ctx, &content); err != nil {
		return model.GeneratedContent{}, err
	}
	product := content.Product
	a.product = &product
	return content, nil
}

func (a *App) DeleteHistory(ctx context.Context, id string) error {
	return a.store.DeleteHistory(ctx, id)
}

// Export delivers the current result through sink.
func (a *App) Export(ctx context.Context, sink export.Sink, opts export.Options) (export.Result, error) {
	content, ok := a.store.CurrentResult()
	if !ok {
		return export.Result{}, ErrNoResult
	}
	return a.exporter.Export(ctx, content, sink, opts)
}

// ExportDir writes the current result below dir, or below the configured
// export path when dir is empty.
func (a *App) ExportDir(ctx context.Context, dir string, opts export.Options) (export.Result, error) {
	if strings.TrimSpace(dir) == "" {
		dir = a.store.Settings().ExportPath
	}
	return a.Export(ctx, export.DirSink{Dir: dir}, opts)
}

// Image returns one image of the current result as a PNG.
func (a *App) Image(ctx context.Context, imageID string) (export.Artifact, error) {
	content, ok := a.store.CurrentResult()
	if !ok {
		return export.Artifact{}, ErrNoResult
	}
	img, idx, ok := content.Image(imageID)
	if !ok {
		return export.Artifact{}, fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
	}
	return a.exporter.Image(ctx, idx, img)
}
