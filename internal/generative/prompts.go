package generative

import (
	"fmt"
	"strings"

	"banana-mall/internal/catalog"
	"banana-mall/internal/model"
)

const analyzePrompt = `请分析这张产品图片，提供以下信息（用中文回答）：
1. 产品类别（一个词或短语）
2. 产品描述（2-3句话）
3. 上架建议（3-4条，每条一句话）
4. 产品规格（5条，格式：属性名：属性值）

请以JSON格式返回，格式如下：
{
  "category": "产品类别",
  "description": "产品描述",
  "suggestions": ["建议1", "建议2", "建议3"],
  "specifications": ["规格1", "规格2", "规格3", "规格4", "规格5"]
}`

const textPromptZH = `基于以下产品信息，生成%[1]s平台的商品文案（%[2]s风格）：

%[3]s产品类别：%[4]s
产品描述：%[5]s
产品规格：%[6]s

请生成：
1. 商品标题（吸引人，包含关键词）
2. 商品描述（详细，突出卖点，适合%[1]s平台）
3. 商品规格列表（5条）

以JSON格式返回：
{
  "title": "商品标题",
  "description": "商品描述",
  "specifications": ["规格1", "规格2", "规格3", "规格4", "规格5"]
}`

const textPromptEN = `Generate product copy for %[1]s platform (%[2]s style) based on:

%[3]sCategory: %[4]s
Description: %[5]s
Specifications: %[6]s

Generate:
1. Product title (attractive, includes keywords)
2. Product description (detailed, highlights selling points, suitable for %[1]s)
3. Specification list (5 items)

Return in JSON format:
{
  "title": "Product Title",
  "description": "Product Description",
  "specifications": ["Spec1", "Spec2", "Spec3", "Spec4", "Spec5"]
}`

func buildTextPrompt(cat *catalog.Catalog, req TextRequest) string {
	var desc string
	var specs []string
	if req.Product.Analysis != nil {
		desc = req.Product.Analysis.Description
		specs = req.Product.Analysis.Specifications
	}

	tmpl, sep := textPromptZH, "、"
	if req.Language == model.LanguageEN {
		tmpl, sep = textPromptEN, ", "
	}

	return fmt.Sprintf(tmpl,
		cat.PlatformName(req.Platform, req.Language),
		cat.StyleName(req.Style, req.Language),
		contextLines(req.Language, req.BrandName, req.ExtraInfo),
		req.Product.Category,
		desc,
		strings.Join(specs, sep),
	)
}

// contextLines renders the optional brand and extra-info lines.
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
