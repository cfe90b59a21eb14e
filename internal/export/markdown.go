package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"banana-mall/internal/model"
)

type headings struct {
	buyBox, price, originalPrice string

	value, painPoints, solutions string

	reviews string

	service, shipping, returns, faq string

	specs string
}

var headingsByLanguage = map[model.Language]headings{
	model.LanguageZH: {
		buyBox: "商品信息", price: "价格", originalPrice: "原价",
		value: "产品卖点", painPoints: "用户痛点", solutions: "解决方案",
		reviews: "用户评价",
		service: "服务保障", shipping: "物流", returns: "退换货", faq: "常见问题",
		specs: "商品规格",
	},
	model.LanguageEN: {
		buyBox: "Product Info", price: "Price", originalPrice: "Original price",
		value: "Key Benefits", painPoints: "Pain Points", solutions: "Solutions",
		reviews: "Customer Reviews",
		service: "Service Guarantee", shipping: "Shipping", returns: "Returns", faq: "FAQ",
		specs: "Specifications",
	},
}

// Markdown renders the human-readable detail document.
func Markdown(content model.GeneratedContent) string {
	h, ok := headingsByLanguage[content.Language]
	if !ok {
		h = headingsByLanguage[model.LanguageZH]
	}
	texts, page := content.Texts, content.DetailPage

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", texts.Title)
	fmt.Fprintf(&b, "%s\n\n", texts.Description)

	fmt.Fprintf(&b, "## %s\n\n", h.buyBox)
	fmt.Fprintf(&b, "**%s**: %s\n\n", h.price, page.BuyBox.Price)
	if page.BuyBox.OriginalPrice != "" {
		fmt.Fprintf(&b, "**%s**: %s\n\n", h.originalPrice, page.BuyBox.OriginalPrice)
	}

	fmt.Fprintf(&b, "## %s\n\n", h.value)
	writeList(&b, h.painPoints, page.ValueProposition.PainPoints)
	writeList(&b, h.solutions, page.ValueProposition.Solutions)

	fmt.Fprintf(&b, "## %s\n\n", h.reviews)
	for _, r := range page.SocialProof.Reviews {
		fmt.Fprintf(&b, "**%s** %s\n\n", strings.Repeat("⭐", clampRating(r.Rating)), r.Text)
	}

	fmt.Fprintf(&b, "## %s\n\n", h.service)
	if page.ServiceGuarantee.Shipping != "" {
		fmt.Fprintf(&b, "**%s**: %s\n\n", h.shipping, page.ServiceGuarantee.Shipping)
	}
	if page.ServiceGuarantee.ReturnPolicy != "" {
		fmt.Fprintf(&b, "**%s**: %s\n\n", h.returns, page.ServiceGuarantee.ReturnPolicy)
	}
	if len(page.ServiceGuarantee.FAQ) > 0 {
		fmt.Fprintf(&b, "### %s\n\n", h.faq)
		for _, f := range page.ServiceGuarantee.FAQ {
			fmt.Fprintf(&b, "**Q**: %s\n\n", f.Question)
			fmt.Fprintf(&b, "**A**: %s\n\n", f.Answer)
		}
	}

	if len(texts.Specifications) > 0 {
		fmt.Fprintf(&b, "## %s\n\n", h.specs)
		for _, spec := range texts.Specifications {
			fmt.Fprintf(&b, "- %s\n", spec)
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
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

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(htmlrenderer.WithXHTML()),
)

const htmlShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`

// HTML renders the Markdown document as a standalone page.
func HTML(content model.GeneratedContent) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownEngine.Convert([]byte(Markdown(content)), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	title := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(content.Texts.Title)
	return []byte(fmt.Sprintf(htmlShell, title, body.String())), nil
}
