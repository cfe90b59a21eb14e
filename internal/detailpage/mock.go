package detailpage

import (
	"fmt"
	"strings"

	"banana-mall/internal/model"
)

var mockStyleLabels = map[model.Style]string{
	model.StyleMinimal: "极简",
	model.StyleCyber:   "赛博",
	model.StyleChinese: "国潮",
}

// Mock builds the placeholder detail page for a product.
func Mock(product model.Product, style model.Style, lang model.Language, brand string) model.DetailPageContent {
	prefix := ""
	if brand = strings.TrimSpace(brand); brand != "" {
		prefix = brand + " "
	}

	if lang == model.LanguageEN {
		return model.DetailPageContent{
			BuyBox: model.BuyBox{
				Title:         fmt.Sprintf("%s%s - High Quality", prefix, product.Category),
				Price:         "$29.99",
				OriginalPrice: "$39.99",
				CTA:           "Buy Now",
			},
			ValueProposition: model.ValueProposition{
				PainPoints:     []string{"Pain Point 1", "Pain Point 2", "Pain Point 3"},
				Solutions:      []string{"Solution 1", "Solution 2", "Solution 3"},
				Visualizations: []string{"Visualization 1", "Visualization 2", "Visualization 3"},
			},
			SocialProof: model.SocialProof{
				Reviews: []model.Review{
					{Text: "Great product!", Rating: 5},
					{Text: "Good quality", Rating: 4},
					{Text: "Worth recommending", Rating: 5},
				},
				SalesData:      "1000+ sold this month",
				Certifications: []string{"Quality Certification", "Patent Certificate"},
			},
			ServiceGuarantee: model.ServiceGuarantee{
				Shipping:     "Free shipping, 3-5 days delivery",
				ReturnPolicy: "7-day return policy",
				FAQ: []model.FAQ{
					{Question: "How to clean?", Answer: "Can be cleaned with water"},
					{Question: "Is shipping free?", Answer: "Yes, free shipping nationwide"},
					{Question: "Warranty period?", Answer: "1 year warranty"},
				},
			},
			CrossSell: model.CrossSell{
				Recommendations: []string{"Recommended Product 1", "Recommended Product 2", "Recommended Product 3"},
			},
		}
	}

	label, ok := mockStyleLabels[style]
	if !ok {
		label = mockStyleLabels[model.StyleMinimal]
	}
	return model.DetailPageContent{
		BuyBox: model.BuyBox{
			Title:         fmt.Sprintf("%s%s - 高品质%s风格", prefix, product.Category, label),
			Price:         "¥299",
			OriginalPrice: "¥399",
			CTA:           "立即购买",
		},
		ValueProposition: model.ValueProposition{
			PainPoints:     []string{"痛点1", "痛点2", "痛点3"},
			Solutions:      []string{"解决方案1", "解决方案2", "解决方案3"},
			Visualizations: []string{"可视化1", "可视化2", "可视化3"},
		},
		SocialProof: model.SocialProof{
			Reviews: []model.Review{
				{Text: "很好用！", Rating: 5},
				{Text: "质量不错", Rating: 4},
				{Text: "值得推荐", Rating: 5},
			},
			SalesData:      "月销1000+",
			Certifications: []string{"质检认证", "专利证书"},
		},
		ServiceGuarantee: model.ServiceGuarantee{
			Shipping:     "全国包邮，3-5天送达",
			ReturnPolicy: "7天无理由退换货",
			FAQ: []model.FAQ{
				{Question: "如何清洗？", Answer: "可用清水清洗"},
				{Question: "是否包邮？", Answer: "是的，全国包邮"},
				{Question: "质保多久？", Answer: "1年质保"},
			},
		},
		CrossSell: model.CrossSell{
			Recommendations: []string{"推荐商品1", "推荐商品2", "推荐商品3"},
		},
	}
}
