package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"banana-mall/internal/model"
)

//go:embed prompts.yaml
var embeddedPrompts []byte

const SchemaVersion = 1

type Localized struct {
	ZH string `yaml:"zh"`
	EN string `yaml:"en"`
}

func (l Localized) For(lang model.Language) string {
	if lang == model.LanguageEN {
		return l.EN
	}
	return l.ZH
}

type LocalizedList struct {
	ZH []string `yaml:"zh"`
	EN []string `yaml:"en"`
}

func (l LocalizedList) For(lang model.Language) []string {
	if lang == model.LanguageEN {
		return l.EN
	}
	return l.ZH
}

type PlatformInfo struct {
	Name          Localized `yaml:"name"`
	Profile       Localized `yaml:"profile"`
	Listing       bool      `yaml:"listing"`
	ImageModifier Localized `yaml:"image_modifier"`
}

type StyleInfo struct {
	Name          Localized `yaml:"name"`
	ImageModifier Localized `yaml:"image_modifier"`
}

type Phrases struct {
	MainBrand    Localized `yaml:"main_brand"`
	MainExtra    Localized `yaml:"main_extra"`
	DetailBrand  Localized `yaml:"detail_brand"`
	DetailExtra  Localized `yaml:"detail_extra"`
	ImageQuality Localized `yaml:"image_quality"`
}

// Catalog is the versioned vocabulary used to assemble image prompts.
type Catalog struct {
	Version     int                     `yaml:"version"`
	Platforms   map[string]PlatformInfo `yaml:"platforms"`
	Styles      map[string]StyleInfo    `yaml:"styles"`
	MainPrompts struct {
		Listing   LocalizedList `yaml:"listing"`
		Marketing LocalizedList `yaml:"marketing"`
	} `yaml:"main_prompts"`
	DetailPrompts LocalizedList `yaml:"detail_prompts"`
	Phrases       Phrases       `yaml:"phrases"`
}

type NamedOption struct {
	Key  string
	Name string
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(embeddedPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path; an empty path yields the embedded one.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.Version != SchemaVersion {
		return fmt.Errorf("prompt catalog version %d not supported (want %d)", c.Version, SchemaVersion)
	}
	for _, p := range []model.Platform{model.PlatformAmazon, model.PlatformTaobao, model.PlatformJD} {
		if _, ok := c.Platforms[string(p)]; !ok {
			return fmt.Errorf("prompt catalog: platform %q missing", p)
		}
	}
	for _, s := range []model.Style{model.StyleMinimal, model.StyleCyber, model.StyleChinese} {
		if _, ok := c.Styles[string(s)]; !ok {
			return fmt.Errorf("prompt catalog: style %q missing", s)
		}
	}
	lists := map[string]LocalizedList{
		"main_prompts.listing":   c.MainPrompts.Listing,
		"main_prompts.marketing": c.MainPrompts.Marketing,
		"detail_prompts":         c.DetailPrompts,
	}
	for name, l := range lists {
		if len(l.ZH) == 0 || len(l.EN) == 0 {
			return fmt.Errorf("prompt catalog: %s needs zh and en entries", name)
		}
	}
	if c.Phrases.MainBrand.ZH == "" || c.Phrases.DetailBrand.ZH == "" {
		return errors.New("prompt catalog: brand phrases missing")
	}
	return nil
}

func (c *Catalog) Platform(p model.Platform) PlatformInfo {
	if info, ok := c.Platforms[string(p)]; ok {
		return info
	}
	return c.Platforms[string(model.PlatformAmazon)]
}

func (c *Catalog) Style(s model.Style) StyleInfo {
	if info, ok := c.Styles[string(s)]; ok {
		return info
	}
	return c.Styles[string(model.StyleMinimal)]
}

func (c *Catalog) PlatformName(p model.Platform, lang model.Language) string {
	return c.Platform(p).Name.For(lang)
}

func (c *Catalog) StyleName(s model.Style, lang model.Language) string {
	return c.Style(s).Name.For(lang)
}

func (c *Catalog) PlatformOptions(lang model.Language) []NamedOption {
	order := []model.Platform{model.PlatformAmazon, model.PlatformTaobao, model.PlatformJD}
	out := make([]NamedOption, 0, len(order))
	for _, p := range order {
		out = append(out, NamedOption{Key: string(p), Name: c.PlatformName(p, lang)})
	}
	return out
}

func (c *Catalog) StyleOptions(lang model.Language) []NamedOption {
	order := []model.Style{model.StyleMinimal, model.StyleCyber, model.StyleChinese}
	out := make([]NamedOption, 0, len(order))
	for _, s := range order {
		out = append(out, NamedOption{Key: string(s), Name: c.StyleName(s, lang)})
	}
	return out
}

// MainImagePrompt builds the edit instruction for main image i. Variants wrap
// around; the brand label goes on even indices only, and never on listing
// platforms.
func (c *Catalog) MainImagePrompt(i int, platform model.Platform, lang model.Language, brand, extra string) string {
	variants := c.MainPrompts.Marketing.For(lang)
	if c.Platform(platform).Listing {
		variants = c.MainPrompts.Listing.For(lang)
	}
	prompt := variants[i%len(variants)]

	brand = strings.TrimSpace(brand)
	if brand != "" && !c.Platform(platform).Listing && i%2 == 0 {
		prompt += fmt.Sprintf(c.Phrases.MainBrand.For(lang), brand)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		prompt += fmt.Sprintf(c.Phrases.MainExtra.For(lang), extra)
	}
	return prompt
}

// DetailImagePrompt builds the edit instruction for detail image i. The brand
// name is only injected into the first one.
func (c *Catalog) DetailImagePrompt(i int, lang model.Language, brand, extra string) string {
	variants := c.DetailPrompts.For(lang)
	prompt := variants[i%len(variants)]

	if brand = strings.TrimSpace(brand); brand != "" && i == 0 {
		prompt += fmt.Sprintf(c.Phrases.DetailBrand.For(lang), brand)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		prompt += fmt.Sprintf(c.Phrases.DetailExtra.For(lang), extra)
	}
	return prompt
}

// ImagePrompt decorates a free text-to-image prompt with style and platform modifiers.
func (c *Catalog) ImagePrompt(prompt string, style model.Style, platform model.Platform, lang model.Language) string {
	sep := "，"
	if lang == model.LanguageEN {
		sep = ", "
	}
	parts := []string{
		strings.TrimSpace(prompt),
		c.Style(style).ImageModifier.For(lang),
		c.Platform(platform).ImageModifier.For(lang),
		c.Phrases.ImageQuality.For(lang),
	}
	return strings.Join(parts, sep)
}

// DetectAspectRatio returns the first W:H marker found in the prompt, or "".
func DetectAspectRatio(prompt string) string {
	for _, field := range strings.FieldsFunc(prompt, isRatioSeparator) {
		if ar := NormalizeAspectRatio(field); ar != "" {
			return ar
		}
	}
	return ""
}

func NormalizeAspectRatio(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil || a <= 0 || b <= 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func isRatioSeparator(r rune) bool {
	if r == ':' {
		return false
	}
	return r < '0' || r > '9'
}
