package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

type Platform string

const (
	PlatformAmazon Platform = "amazon"
	PlatformTaobao Platform = "taobao"
	PlatformJD     Platform = "jd"
)

type Style string

const (
	StyleMinimal Style = "minimal"
	StyleCyber   Style = "cyber"
	StyleChinese Style = "chinese"
)

// Model selects the quality/cost tier of the remote image model.
type Model string

const (
	ModelNanoBanana Model = "nanobanana"
	ModelNanaBanana Model = "nanabanana"
)

type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

type ImageKind string

const (
	KindMain   ImageKind = "main"
	KindDetail ImageKind = "detail"
	KindScene  ImageKind = "scene"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

type ProductAnalysis struct {
	Category       string   `json:"category"`
	Description    string   `json:"description"`
	Suggestions    []string `json:"suggestions"`
	Specifications []string `json:"specifications"`
}

type Product struct {
	ID            string           `json:"id"`
	Image         string           `json:"image"`
	ImageBase64   string           `json:"imageBase64"`
	ImageMimeType string           `json:"imageMimeType"`
	Category      string           `json:"category"`
	Tags          []string         `json:"tags"`
	Analysis      *ProductAnalysis `json:"analysis,omitempty"`
}

// ImageBytes decodes the raw upload payload used to seed edit calls.
func (p Product) ImageBytes() ([]byte, error) {
	if strings.TrimSpace(p.ImageBase64) == "" {
		return nil, errors.New("product image payload is empty")
	}
	data, err := base64.StdEncoding.DecodeString(p.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("decode product image: %w", err)
	}
	return data, nil
}

type GeneratedImage struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Prompt string    `json:"prompt"`
	Type   ImageKind `json:"type"`
}

type Texts struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Specifications []string `json:"specifications"`
}

type BuyBox struct {
	Title         string `json:"title"`
	Price         string `json:"price"`
	OriginalPrice string `json:"originalPrice,omitempty"`
	CTA           string `json:"cta"`
}

type ValueProposition struct {
	PainPoints     []string `json:"painPoints"`
	Solutions      []string `json:"solutions"`
	Visualizations []string `json:"visualizations"`
}

type Review struct {
	Text   string `json:"text"`
	Rating int    `json:"rating"`
}

type SocialProof struct {
	Reviews        []Review `json:"reviews"`
	SalesData      string   `json:"salesData"`
	Certifications []string `json:"certifications"`
}

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type ServiceGuarantee struct {
	Shipping     string `json:"shipping"`
	ReturnPolicy string `json:"returnPolicy"`
	FAQ          []FAQ  `json:"faq"`
}

type CrossSell struct {
	Recommendations []string `json:"recommendations"`
}

// DetailPageContent is the five-module detail page. Every slot is always
// populated, either from the model or from the mock substitute.
type DetailPageContent struct {
	BuyBox           BuyBox           `json:"buyBox"`
	ValueProposition ValueProposition `json:"valueProposition"`
	SocialProof      SocialProof      `json:"socialProof"`
	ServiceGuarantee ServiceGuarantee `json:"serviceGuarantee"`
	CrossSell        CrossSell        `json:"crossSell"`
}

type GeneratedContent struct {
	Product    Product           `json:"product"`
	Platform   Platform          `json:"platform"`
	Style      Style             `json:"style"`
	Model      Model             `json:"model"`
	Language   Language          `json:"language"`
	BrandName  string            `json:"brandName,omitempty"`
	Images     []GeneratedImage  `json:"images"`
	Texts      Texts             `json:"texts"`
	DetailPage DetailPageContent `json:"detailPage"`
}

// ImagesOfKind returns the images of one kind in insertion order.
func (c GeneratedContent) ImagesOfKind(kind ImageKind) []GeneratedImage {
	var out []GeneratedImage
	for _, img := range c.Images {
		if img.Type == kind {
			out = append(out, img)
		}
	}
	return out
}

// Image looks an image up by id.
func (c GeneratedContent) Image(id string) (GeneratedImage, int, bool) {
	for i, img := range c.Images {
		if img.ID == id {
			return img, i, true
		}
	}
	return GeneratedImage{}, -1, false
}

// Clone returns a deep copy so callers can mutate without touching persisted state.
func (c GeneratedContent) Clone() GeneratedContent {
	out := c
	out.Product.Tags = cloneSlice(c.Product.Tags)
	if c.Product.Analysis != nil {
		a := *c.Product.Analysis
		a.Suggestions = cloneSlice(a.Suggestions)
		a.Specifications = cloneSlice(a.Specifications)
		out.Product.Analysis = &a
	}
	out.Images = append([]GeneratedImage(nil), c.Images...)
	out.Texts.Specifications = cloneSlice(c.Texts.Specifications)
	out.DetailPage = c.DetailPage.Clone()
	return out
}

func (d DetailPageContent) Clone() DetailPageContent {
	out := d
	out.ValueProposition.PainPoints = cloneSlice(d.ValueProposition.PainPoints)
	out.ValueProposition.Solutions = cloneSlice(d.ValueProposition.Solutions)
	out.ValueProposition.Visualizations = cloneSlice(d.ValueProposition.Visualizations)
	out.SocialProof.Reviews = cloneSlice(d.SocialProof.Reviews)
	out.SocialProof.Certifications = cloneSlice(d.SocialProof.Certifications)
	out.ServiceGuarantee.FAQ = cloneSlice(d.ServiceGuarantee.FAQ)
	out.CrossSell.Recommendations = cloneSlice(d.CrossSell.Recommendations)
	return out
}

type GenerationHistory struct {
	GeneratedContent
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
}

type AppSettings struct {
	APIKey           string   `json:"apiKey"`
	BaseURL          string   `json:"baseURL"`
	DefaultPlatform  Platform `json:"defaultPlatform"`
	DefaultStyle     Style    `json:"defaultStyle"`
	ExportPath       string   `json:"exportPath"`
	SelectedModel    Model    `json:"selectedModel"`
	SelectedLanguage Language `json:"selectedLanguage"`
	Theme            Theme    `json:"theme"`
	MainImageCount   int      `json:"mainImageCount"`
	DetailImageCount int      `json:"detailImageCount"`
	BrandName        string   `json:"brandName"`
	ExtraInfo        string   `json:"extraInfo"`
}

func DefaultSettings() AppSettings {
	return AppSettings{
		BaseURL:          "https://generativelanguage.googleapis.com",
		DefaultPlatform:  PlatformAmazon,
		DefaultStyle:     StyleMinimal,
		SelectedModel:    ModelNanoBanana,
		SelectedLanguage: LanguageZH,
		Theme:            ThemeSystem,
		MainImageCount:   5,
		DetailImageCount: 2,
	}
}

const (
	MinMainImages   = 1
	MaxMainImages   = 10
	MinDetailImages = 1
	MaxDetailImages = 5
)

// ClampCounts normalizes image counts to the supported ranges. Zero falls
// back to the defaults.
func ClampCounts(mainCount, detailCount int) (int, int) {
	if mainCount == 0 {
		mainCount = 5
	}
	if detailCount == 0 {
		detailCount = 2
	}
	return clamp(mainCount, MinMainImages, MaxMainImages), clamp(detailCount, MinDetailImages, MaxDetailImages)
}

func ParsePlatform(v string) (Platform, bool) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(v))); p {
	case PlatformAmazon, PlatformTaobao, PlatformJD:
		return p, true
	}
	return "", false
}

func ParseStyle(v string) (Style, bool) {
	switch s := Style(strings.ToLower(strings.TrimSpace(v))); s {
	case StyleMinimal, StyleCyber, StyleChinese:
		return s, true
	}
	return "", false
}

func ParseModel(v string) (Model, bool) {
	switch m := Model(strings.ToLower(strings.TrimSpace(v))); m {
	case ModelNanoBanana, ModelNanaBanana:
		return m, true
	}
	return "", false
}

func ParseLanguage(v string) (Language, bool) {
	switch l := Language(strings.ToLower(strings.TrimSpace(v))); l {
	case LanguageZH, LanguageEN:
		return l, true
	}
	return "", false
}

func ParseTheme(v string) (Theme, bool) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(v))); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, true
	}
	return "", false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}
