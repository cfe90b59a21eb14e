package detailpage

// Arguments: context lines, category, description, specifications,
// platform profile, style, platform name.
const promptZH = `请为以下产品生成完整的电商详情页内容（5大核心模块）：

%[1]s产品类别：%[2]s
产品描述：%[3]s
产品规格：%[4]s

目标平台：%[5]s
风格：%[6]s

请生成以下5大核心模块的详细内容，以JSON格式返回：

1. 首屏决策区（buyBox）：
   - title: 商品标题（包含品牌、核心关键词、属性、场景）
   - price: 当前价格
   - originalPrice: 原价（可选）
   - cta: 行动按钮文字

2. 卖点展示区（valueProposition）：
   - painPoints: 用户痛点数组（3-5条）
   - solutions: 产品解决方案数组（3-5条）
   - visualizations: 可视化展示建议数组（3条）

3. 信任背书区（socialProof）：
   - reviews: 用户评价数组，每个包含text（评价内容）和rating（评分1-5）
   - salesData: 销量数据描述
   - certifications: 认证证书数组

4. 服务保障区（serviceGuarantee）：
   - shipping: 物流政策描述
   - returnPolicy: 退换货政策描述
   - faq: 常见问题数组，每个包含question和answer

5. 关联推荐区（crossSell）：
   - recommendations: 推荐商品数组（3-5条）

请确保内容真实、吸引人，符合%[7]s平台的风格特点。返回纯JSON格式，不要包含markdown代码块。`

const promptEN = `Please generate complete e-commerce detail page content (5 core modules) for the following product:

%[1]sProduct Category: %[2]s
Product Description: %[3]s
Product Specifications: %[4]s

Target Platform: %[5]s
Style: %[6]s

Please generate detailed content for the following 5 core modules, return in JSON format:

1. Buy Box (buyBox):
   - title: Product title (include brand, core keywords, attributes, scene)
   - price: Current price
   - originalPrice: Original price (optional)
   - cta: Call-to-action button text

2. Value Proposition (valueProposition):
   - painPoints: Array of user pain points (3-5 items)
   - solutions: Array of product solutions (3-5 items)
   - visualizations: Array of visualization suggestions (3 items)

3. Social Proof (socialProof):
   - reviews: Array of user reviews, each with text (review content) and rating (1-5)
   - salesData: Sales data description
   - certifications: Array of certifications

4. Service & Guarantee (serviceGuarantee):
   - shipping: Shipping policy description
   - returnPolicy: Return policy description
   - faq: Array of FAQs, each with question and answer

5. Cross-sell (crossSell):
   - recommendations: Array of recommended products (3-5 items)

Ensure content is authentic, attractive, and matches the style of %[7]s platform. Return pure JSON format, do not include markdown code blocks.`
