package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"banana-mall/internal/imageconv"
	"banana-mall/internal/model"
)

var ErrNoDirectory = errors.New("no export directory chosen")

const (
	ContentFile  = "content.json"
	MarkdownFile = "detail.md"
	HTMLFile     = "detail.html"
	FolderPrefix = "banana-mall-export-"
)

type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Options tunes one export.
type Options struct {
	// HTML adds a rendered detail.html next to the Markdown.
	HTML bool
}

// Result describes where a delivery ended up.
type Result struct {
	Stamp    string
	Location string
	Files    []string
}

// Sink delivers a finished artifact set.
type Sink interface {
	Deliver(ctx context.Context, stamp string, artifacts []Artifact) (Result, error)
}

// Document is the JSON artifact. Image payloads are not part of it.
type Document struct {
	Product    DocumentProduct         `json:"product"`
	Platform   model.Platform          `json:"platform"`
	Style      model.Style             `json:"style"`
	Texts      model.Texts             `json:"texts"`
	DetailPage model.DetailPageContent `json:"detailPage"`
}

type DocumentProduct struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type ExporterOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

type Exporter struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts ExporterOptions) *Exporter {
	e := &Exporter{httpClient: opts.HTTPClient, logger: opts.Logger, now: opts.Now}
	if e.httpClient == nil {
		e.httpClient = http.DefaultClient
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Stamp formats t the way export folder and download names carry it.
func Stamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Build produces every artifact for content in delivery order: JSON,
// Markdown, optional HTML, then one PNG per image.
func (e *Exporter) Build(ctx context.Context, content model.GeneratedContent, opts Options) ([]Artifact, error) {
	doc, err := json.MarshalIndent(Document{
		Product:    DocumentProduct{Category: content.Product.Category, Tags: content.Product.Tags},
		Platform:   content.Platform,
		Style:      content.Style,
		Texts:      content.Texts,
		DetailPage: content.DetailPage,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	artifacts := []Artifact{
		{Name: ContentFile, ContentType: "application/json", Data: doc},
		{Name: MarkdownFile, ContentType: "text/markdown; charset=utf-8", Data: []byte(Markdown(content))},
	}
	if opts.HTML {
		page, err := HTML(content)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{Name: HTMLFile, ContentType: "text/html; charset=utf-8", Data: page})
	}

	images := make([]Artifact, len(content.Images))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, img := range content.Images {
		i, img := i, img
		eg.Go(func() error {
			a, err := e.Image(egCtx, i, img)
			if err != nil {
				return err
			}
			images[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return append(artifacts, images...), nil
}

// Image resolves one image reference into a PNG artifact named for its
// position in the content.
func (e *Exporter) Image(ctx context.Context, index int, img model.GeneratedImage) (Artifact, error) {
	raw, err := imageconv.Resolve(ctx, e.httpClient, img.URL)
	if err != nil {
		return Artifact{}, fmt.Errorf("image %s: %w", img.ID, err)
	}
	png, err := imageconv.ToPNG(raw)
	if err != nil {
		return Artifact{}, fmt.Errorf("image %s: %w", img.ID, err)
	}
	return Artifact{Name: ImageFileName(index, img), ContentType: "image/png", Data: png}, nil
}

// ImageFileName is <n>_<main|detail>_<id>.png with n counted from 1.
func ImageFileName(index int, img model.GeneratedImage) string {
	tag := "detail"
	if img.Type == model.KindMain {
		tag = "main"
	}
	return fmt.Sprintf("%d_%s_%s.png", index+1, tag, img.ID)
}

// Export builds the artifacts and hands them to sink. Nothing is delivered
// when building fails.
func (e *Exporter) Export(ctx context.Context, content model.GeneratedContent, sink Sink, opts Options) (Result, error) {
	if sink == nil {
		return Result{}, errors.New("export: no sink")
	}
	artifacts, err := e.Build(ctx, content, opts)
	if err != nil {
		return Result{}, err
	}
	stamp := Stamp(e.now())
	res, err := sink.Deliver(ctx, stamp, artifacts)
	if err != nil {
		e.logger.Error("export delivery failed", "stamp", stamp, "err", err)
		return res, err
	}
	res.Stamp = stamp
	e.logger.Info("export delivered", "location", res.Location, "files", len(res.Files))
	return res, nil
}
