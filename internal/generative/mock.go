package generative

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"banana-mall/internal/catalog"
	"banana-mall/internal/imageconv"
	"banana-mall/internal/model"
)

const (
	placeholderWidth      = 600
	placeholderMainHeight = 600
)

var (
	mockCategories = []string{"电子产品", "服装", "家居用品", "美妆", "食品"}

	mockSuggestions = []string{
		"建议突出产品的主要功能特点",
		"使用高质量的产品图片",
		"添加详细的产品规格说明",
		"包含用户评价和使用场景",
	}
	mockDescriptions = []string{
		"这是一款高品质的产品，采用先进技术制造，具有出色的性能和耐用性。",
		"精心设计的产品，注重细节和用户体验，适合日常使用。",
		"专业级产品，满足高标准要求，是您理想的选择。",
	}
	mockSpecifications = []string{
		"材质：优质材料",
		"尺寸：标准规格",
		"重量：轻便设计",
		"颜色：多种可选",
		"包装：精美包装",
	}
)

type MockOptions struct {
	// Delay is the base latency unit; analysis waits 1.5x, text 2x and
	// images 3x. Zero disables the wait.
	Delay   time.Duration
	Catalog *catalog.Catalog
}

// Mock produces placeholder content locally. It only fails on invalid input.
type Mock struct {
	delay   time.Duration
	catalog *catalog.Catalog
}

func NewMock(opts MockOptions) *Mock {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	return &Mock{delay: delay, catalog: cat}
}

func (m *Mock) AnalyzeProduct(ctx context.Context, image []byte, mimeType string) (model.ProductAnalysis, error) {
	if err := validateImage(image, mimeType); err != nil {
		return model.ProductAnalysis{}, err
	}
	m.wait(ctx, 3, 2)

	sum := hash(image)
	return model.ProductAnalysis{
		Category:       mockCategories[sum%uint32(len(mockCategories))],
		Description:    mockDescriptions[(sum>>8)%uint32(len(mockDescriptions))],
		Suggestions:    append([]string(nil), mockSuggestions...),
		Specifications: append([]string(nil), mockSpecifications...),
	}, nil
}

func (m *Mock) GenerateText(ctx context.Context, req TextRequest) (model.Texts, error) {
	m.wait(ctx, 2, 1)

	category := req.Product.Category
	var desc string
	var suggestions, specs []string
	if a := req.Product.Analysis; a != nil {
		if category == "" {
			category = a.Category
		}
		desc = a.Description
		suggestions = a.Suggestions
		specs = a.Specifications
	}

	styleName := m.catalog.StyleName(req.Style, req.Language)
	platformName := m.catalog.PlatformName(req.Platform, req.Language)

	var title string
	if req.Language == model.LanguageEN {
		title = fmt.Sprintf("%s - %s Style for %s", category, styleName, platformName)
	} else {
		title = fmt.Sprintf("%s - %s风格 %s专供", category, styleName, platformName)
	}
	if brand := strings.TrimSpace(req.BrandName); brand != "" {
		title = brand + " " + title
	}

	description := desc
	if len(suggestions) > 0 {
		description = desc + "\n\n" + strings.Join(suggestions, "\n")
	}

	return model.Texts{
		Title:          title,
		Description:    description,
		Specifications: append([]string(nil), specs...),
	}, nil
}

func (m *Mock) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := validatePrompt(req.Prompt); err != nil {
		return "", err
	}
	m.wait(ctx, 3, 1)
	return placeholderRef(generateAspectRatio(req.Kind), string(req.Kind)+"|"+req.Prompt)
}

// defaultEditPrompt stands in for an empty edit instruction.
const defaultEditPrompt = "Edited image"

func (m *Mock) EditImage(ctx context.Context, req EditRequest) (string, error) {
	if err := validateImage(req.Image, req.MimeType); err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = defaultEditPrompt
	}
	m.wait(ctx, 3, 1)
	return placeholderRef(editAspectRatio(req), "edit|"+prompt)
}

// wait sleeps for delay*num/den or until ctx is done.
func (m *Mock) wait(ctx context.Context, num, den int64) {
	d := m.delay * time.Duration(num) / time.Duration(den)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func placeholderRef(aspectRatio, seed string) (string, error) {
	w, h := placeholderWidth, placeholderMainHeight
	if a, b, ok := strings.Cut(aspectRatio, ":"); ok {
		aw, errA := strconv.Atoi(a)
		ah, errB := strconv.Atoi(b)
		if errA == nil && errB == nil && aw > 0 && ah > 0 {
			h = min(max(w*ah/aw, 100), 1800)
		}
	}
	data, err := imageconv.Placeholder(w, h, seed)
	if err != nil {
		return "", fmt.Errorf("render placeholder: %w", err)
	}
	return imageconv.EncodeDataURL("image/png", data), nil
}

func hash(data []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return h.Sum32()
}
