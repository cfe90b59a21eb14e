package detailpage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"banana-mall/internal/catalog"
	"banana-mall/internal/gemini"
	"banana-mall/internal/model"
)

// Completer runs one JSON-mode completion.
type Completer interface {
	CompleteJSON(ctx context.Context, modelID, prompt string) (string, error)
}

type Request struct {
	Product   model.Product
	Platform  model.Platform
	Style     model.Style
	Language  model.Language
	Model     model.Model
	BrandName string
	ExtraInfo string
}

type Options struct {
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

type Generator struct {
	completer Completer
	catalog   *catalog.Catalog
	logger    *slog.Logger
}

// New returns a generator. A nil completer means no credential: every
// request is answered with mock content.
func New(completer Completer, opts Options) *Generator {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{completer: completer, catalog: cat, logger: logger}
}

// TextModel picks the JSON model for the user-facing model tier.
func TextModel(m model.Model) string {
	if m == model.ModelNanaBanana {
		return gemini.ModelTextPro
	}
	return gemini.ModelText
}

// Generate never fails: modules that cannot be produced remotely are
// replaced one by one with mock modules.
func (g *Generator) Generate(ctx context.Context, req Request) model.DetailPageContent {
	fallback := Mock(req.Product, req.Style, req.Language, req.BrandName)
	if g.completer == nil {
		return fallback
	}

	text, err := g.completer.CompleteJSON(ctx, TextModel(req.Model), g.prompt(req))
	if err != nil {
		g.logger.Warn("detail page request failed, using mock content", "op", "generate_detail_page", "err", err)
		return fallback
	}

	var raw map[string]json.RawMessage
	if err := gemini.DecodeJSON(text, &raw); err != nil {
		g.logger.Warn("detail page response unreadable, using mock content", "op", "generate_detail_page", "err", err)
		return fallback
	}

	// Decode over a separate copy so slices never alias the fallback.
	out := Mock(req.Product, req.Style, req.Language, req.BrandName)
	salvaged := 0
	salvaged += g.module(raw, "buyBox", &out.BuyBox, fallback.BuyBox)
	salvaged += g.module(raw, "valueProposition", &out.ValueProposition, fallback.ValueProposition)
	salvaged += g.module(raw, "socialProof", &out.SocialProof, fallback.SocialProof)
	salvaged += g.module(raw, "serviceGuarantee", &out.ServiceGuarantee, fallback.ServiceGuarantee)
	salvaged += g.module(raw, "crossSell", &out.CrossSell, fallback.CrossSell)

	for i := range out.SocialProof.Reviews {
		out.SocialProof.Reviews[i].Rating = clampRating(out.SocialProof.Reviews[i].Rating)
	}

	if salvaged < 5 {
		g.logger.Info("detail page partially substituted", "remote_modules", salvaged)
	}
	return out
}

// module decodes one named module into dst, restoring fallback when the
// module is absent, null or malformed. It reports 1 on success.
func (g *Generator) module(raw map[string]json.RawMessage, key string, dst, fallback any) int {
	doc, ok := raw[key]
	if !ok || isNull(doc) {
		return 0
	}
	if err := json.Unmarshal(doc, dst); err != nil {
		g.logger.Warn("detail page module malformed", "module", key, "err", err)
		restore(dst, fallback)
		return 0
	}
	return 1
}

func restore(dst, fallback any) {
	switch d := dst.(type) {
	case *model.BuyBox:
		*d = fallback.(model.BuyBox)
	case *model.ValueProposition:
		*d = fallback.(model.ValueProposition)
	case *model.SocialProof:
		*d = fallback.(model.SocialProof)
	case *model.ServiceGuarantee:
		*d = fallback.(model.ServiceGuarantee)
	case *model.CrossSell:
		*d = fallback.(model.CrossSell)
	}
}

func isNull(doc json.RawMessage) bool {
	s := strings.TrimSpace(string(doc))
	return s == "" || s == "null"
}

func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}

func (g *Generator) prompt(req Request) string {
	var desc string
	var specs []string
	if a := req.Product.Analysis; a != nil {
		desc = a.Description
		specs = a.Specifications
	}
	info := g.catalog.Platform(req.Platform)
	style := g.catalog.StyleName(req.Style, req.Language)
	lines := contextLines(req.Language, req.BrandName, req.ExtraInfo)

	if req.Language == model.LanguageEN {
		return fmt.Sprintf(promptEN, lines, req.Product.Category, desc, strings.Join(specs, ", "),
			info.Profile.For(req.Language), style, info.Name.For(req.Language))
	}
	return fmt.Sprintf(promptZH, lines, req.Product.Category, desc, strings.Join(specs, ", "),
		info.Profile.For(req.Language), style+"风格", info.Name.For(req.Language))
}

func contextLines(lang model.Language, brand, extra string) string {
	var b strings.Builder
	brand = strings.TrimSpace(brand)
	extra = strings.TrimSpace(extra)
	if lang == model.LanguageEN {
		if brand != "" {
			fmt.Fprintf(&b, "Brand Name: %s\n", brand)
		}
		if extra != "" {
			fmt.Fprintf(&b, "Additional Info: %s\n", extra)
		}
		return b.String()
	}
	if brand != "" {
		fmt.Fprintf(&b, "品牌名：%s\n", brand)
	}
	if extra != "" {
		fmt.Fprintf(&b, "补充信息：%s\n", extra)
	}
	return b.String()
}
