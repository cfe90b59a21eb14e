package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"banana-mall/internal/app"
	"banana-mall/internal/model"
	"banana-mall/internal/pipeline"
	"banana-mall/internal/store"
	"banana-mall/internal/wizard"
)

const (
	callbackPrefix  = "bm"
	historyPageSize = 5
)

var (
	platformNames = []struct {
		Key  model.Platform
		Name string
	}{
		{model.PlatformAmazon, "Amazon"},
		{model.PlatformTaobao, "淘宝"},
		{model.PlatformJD, "京东"},
	}
	styleNames = []struct {
		Key  model.Style
		Name string
	}{
		{model.StyleMinimal, "极简"},
		{model.StyleCyber, "赛博"},
		{model.StyleChinese, "国潮"},
	}
	modelNames = []struct {
		Key  model.Model
		Name string
	}{
		{model.ModelNanoBanana, "Nano Banana"},
		{model.ModelNanaBanana, "Nano Banana Pro"},
	}
	languageNames = []struct {
		Key  model.Language
		Name string
	}{
		{model.LanguageZH, "中文"},
		{model.LanguageEN, "English"},
	}
	themeNames = []struct {
		Key  model.Theme
		Name string
	}{
		{model.ThemeLight, "浅色"},
		{model.ThemeDark, "深色"},
		{model.ThemeSystem, "跟随系统"},
	}
)

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "这个菜单不属于你。", true)
		return nil
	}

	action := parts[2]
	arg := ""
	if len(parts) > 3 {
		arg = strings.Join(parts[3:], ":")
	}
	chatID := q.Message.Chat.ID
	username := q.From.UserName
	h.wizard.Update(chatID, ownerID, func(st *wizard.UIState) { st.MessageID = q.Message.MessageID })

	_ = h.tg.AnswerCallback(q.ID, "", false)

	switch action {
	case "nav":
		step, ok := wizard.ParseStep(arg)
		if !ok || step == wizard.StepGenerating {
			return nil
		}
		h.wizard.Update(chatID, ownerID, func(st *wizard.UIState) { st.Go(step) })
		return h.render(ctx, chatID, ownerID, username, true)
	case "pf":
		return h.applySetting(ctx, chatID, ownerID, username, "platform", arg)
	case "st":
		return h.applySetting(ctx, chatID, ownerID, username, "style", arg)
	case "md":
		return h.applySetting(ctx, chatID, ownerID, username, "model", arg)
	case "lg":
		return h.applySetting(ctx, chatID, ownerID, username, "language", arg)
	case "th":
		return h.applySetting(ctx, chatID, ownerID, username, "theme", arg)
	case "cnt":
		return h.adjustCount(ctx, chatID, ownerID, username, arg)
	case "ask":
		in := wizard.Input(arg)
		h.wizard.Update(chatID, ownerID, func(st *wizard.UIState) { st.Await(in, "") })
		hint := "请发送新的内容"
		if _, clearable := settingKey[in]; clearable {
			hint += "（发送 - 清空）"
		}
		return h.tg.SendText(chatID, "✏️ "+hint+"，/cancel 取消。")
	case "gen":
		return h.startGeneration(ctx, chatID, ownerID, username)
	case "stop":
		return h.cancel(ctx, chatID, ownerID, username)
	case "exp":
		return h.export(ctx, chatID, ownerID, username)
	case "img":
		return h.sendImage(ctx, chatID, ownerID, username, arg)
	case "rd":
		h.wizard.Update(chatID, ownerID, func(st *wizard.UIState) { st.Await(wizard.InputRedraw, arg) })
		return h.tg.SendText(chatID, fmt.Sprintf("🎨 请描述 %s 要如何修改（/cancel 取消）。", arg))
	case "hp":
		page, _ := strconv.Atoi(arg)
		h.wizard.Update(chatID, ownerID, func(st *wizard.UIState) { st.HistoryPage = page })
		return h.render(ctx, chatID, ownerID, username, true)
	case "hl":
		return h.loadHistory(ctx, chatID, ownerID, username, arg)
	case "hd":
		return h.deleteHistory(ctx, chatID, ownerID, username, arg)
	}
	return nil
}

func (h *Handler) adjustCount(ctx context.Context, chatID, userID int64, username, arg string) error {
	which, deltaText, _ := strings.Cut(arg, ":")
	delta, err := strconv.Atoi(deltaText)
	if err != nil {
		return nil
	}
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	s := ws.Settings()
	var patch store.SettingsPatch
	switch which {
	case "main":
		n := s.MainImageCount + delta
		patch.MainImageCount = &n
	case "detail":
		n := s.DetailImageCount + delta
		patch.DetailImageCount = &n
	default:
		return nil
	}
	return h.configure(ctx, chatID, userID, username, patch)
}

func (h *Handler) loadHistory(ctx context.Context, chatID, userID int64, username, id string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if _, err := ws.LoadHistory(ctx, id); err != nil {
		return h.userError(chatID, err)
	}
	h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepEditing) })
	return h.render(ctx, chatID, userID, username, false)
}

func (h *Handler) deleteHistory(ctx context.Context, chatID, userID int64, username, id string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if err := ws.DeleteHistory(ctx, id); err != nil {
		return h.userError(chatID, err)
	}
	return h.render(ctx, chatID, userID, username, true)
}

// render draws the current screen, editing the menu message in place when
// asked and possible.
func (h *Handler) render(ctx context.Context, chatID, userID int64, username string, edit bool) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	st := h.wizard.Get(chatID, userID)
	text, kb := screen(ws, st, userID)

	if edit && st.MessageID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, st.MessageID, text, kb); err == nil {
			return nil
		}
	}
	msgID, err := h.tg.SendTextWithKeyboard(chatID, text, kb)
	if err != nil {
		return err
	}
	h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.MessageID = msgID })
	return nil
}

func screen(ws *app.App, st wizard.UIState, ownerID int64) (string, tgbotapi.InlineKeyboardMarkup) {
	switch st.Step {
	case wizard.StepConfig:
		return configScreen(ws, ownerID)
	case wizard.StepGenerating:
		p := pipeline.Progress{State: pipeline.StateInitializing}
		if run, ok := ws.Active(); ok {
			p = pipeline.Progress{RequestID: run.ID(), State: run.State(), Percent: run.Progress()}
		}
		return progressText(p), progressKeyboard(ownerID, p.State)
	case wizard.StepEditing:
		return editingScreen(ws, ownerID)
	case wizard.StepSettings:
		return settingsScreen(ws, ownerID)
	case wizard.StepHistory:
		return historyScreen(ws, ownerID, st.HistoryPage)
	default:
		return "📷 请发送一张商品照片（JPG / PNG / WebP）。", tgbotapi.NewInlineKeyboardMarkup(
			row(button("🕘 历史记录", cb(ownerID, "nav", string(wizard.StepHistory))),
				button("⚙️ 设置", cb(ownerID, "nav", string(wizard.StepSettings)))),
		)
	}
}

func productSummary(p model.Product) string {
	var b strings.Builder
	b.WriteString("✅ 分析完成\n\n")
	fmt.Fprintf(&b, "类目：%s\n", p.Category)
	if p.Analysis != nil && p.Analysis.Description != "" {
		fmt.Fprintf(&b, "描述：%s\n", p.Analysis.Description)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "标签：%s\n", strings.Join(p.Tags, " / "))
	}
	return strings.TrimSpace(b.String())
}

func configScreen(ws *app.App, ownerID int64) (string, tgbotapi.InlineKeyboardMarkup) {
	s := ws.Settings()
	mainCount, detailCount := model.ClampCounts(s.MainImageCount, s.DetailImageCount)

	var b strings.Builder
	b.WriteString("🛠 生成设置\n\n")
	if p, ok := ws.Product(); ok {
		fmt.Fprintf(&b, "商品：%s\n", p.Category)
	}
	fmt.Fprintf(&b, "平台：%s\n风格：%s\n模型：%s\n语言：%s\n",
		platformName(s.DefaultPlatform), styleName(s.DefaultStyle), modelName(s.SelectedModel), languageName(s.SelectedLanguage))
	fmt.Fprintf(&b, "主图：%d 张，详情图：%d 张\n", mainCount, detailCount)
	if s.BrandName != "" {
		fmt.Fprintf(&b, "品牌：%s\n", s.BrandName)
	}
	if s.ExtraInfo != "" {
		fmt.Fprintf(&b, "补充信息：%s\n", truncateLine(s.ExtraInfo, 80))
	}
	if strings.TrimSpace(s.APIKey) == "" {
		b.WriteString("\nℹ️ 未配置 API Key，将使用演示内容。\n")
	}

	var platforms, styles, models, langs []tgbotapi.InlineKeyboardButton
	for _, o := range platformNames {
		platforms = append(platforms, button(check(o.Name, o.Key == s.DefaultPlatform), cb(ownerID, "pf", string(o.Key))))
	}
	for _, o := range styleNames {
		styles = append(styles, button(check(o.Name, o.Key == s.DefaultStyle), cb(ownerID, "st", string(o.Key))))
	}
	for _, o := range modelNames {
		models = append(models, button(check(o.Name, o.Key == s.SelectedModel), cb(ownerID, "md", string(o.Key))))
	}
	for _, o := range languageNames {
		langs = append(langs, button(check(o.Name, o.Key == s.SelectedLanguage), cb(ownerID, "lg", string(o.Key))))
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		platforms, styles, models, langs,
		row(button("➖", cb(ownerID, "cnt", "main", "-1")),
			button(fmt.Sprintf("主图 %d", mainCount), cb(ownerID, "cnt", "main", "0")),
			button("➕", cb(ownerID, "cnt", "main", "1"))),
		row(button("➖", cb(ownerID, "cnt", "detail", "-1")),
			button(fmt.Sprintf("详情图 %d", detailCount), cb(ownerID, "cnt", "detail", "0")),
			button("➕", cb(ownerID, "cnt", "detail", "1"))),
		row(button("🏷 品牌", cb(ownerID, "ask", string(wizard.InputBrand))),
			button("📝 补充信息", cb(ownerID, "ask", string(wizard.InputExtra)))),
		row(button("🚀 开始生成", cb(ownerID, "gen"))),
		row(button("⬅ 重新上传", cb(ownerID, "nav", string(wizard.StepUpload))),
			button("⚙️ 设置", cb(ownerID, "nav", string(wizard.StepSettings)))),
	)
	return strings.TrimSpace(b.String()), kb
}

var stateLabels = map[pipeline.State]string{
	pipeline.StateInitializing:            "准备中",
	pipeline.StateGeneratingText:          "正在生成文案",
	pipeline.StateGeneratingMainImages:    "正在生成主图",
	pipeline.StateGeneratingDetailContent: "正在生成详情页内容",
	pipeline.StateGeneratingDetailImages:  "正在生成详情图",
	pipeline.StateComplete:                "生成完成",
	pipeline.StateCancelled:               "已取消",
	pipeline.StateFailed:                  "生成失败",
}

func progressText(p pipeline.Progress) string {
	label := stateLabels[p.State]
	if p.Total > 0 && p.Image > 0 {
		label = fmt.Sprintf("%s %d/%d", label, p.Image, p.Total)
	}
	return fmt.Sprintf("⏳ %s\n\n%s %d%%", label, progressBar(p.Percent), p.Percent)
}

func progressBar(percent int) string {
	const width = 10
	filled := percent * width / 100
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}

func progressKeyboard(ownerID int64, state pipeline.State) tgbotapi.InlineKeyboardMarkup {
	if state.Terminal() {
		return tgbotapi.InlineKeyboardMarkup{}
	}
	return tgbotapi.NewInlineKeyboardMarkup(row(button("⏹ 取消", cb(ownerID, "stop"))))
}

func editingScreen(ws *app.App, ownerID int64) (string, tgbotapi.InlineKeyboardMarkup) {
	content, ok := ws.Current()
	if !ok {
		return "ℹ️ 还没有生成内容。", tgbotapi.NewInlineKeyboardMarkup(
			row(button("⬅ 返回", cb(ownerID, "nav", string(wizard.StepUpload)))),
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 %s\n\n%s\n", content.Texts.Title, content.Texts.Description)
	if len(content.Texts.Specifications) > 0 {
		b.WriteString("\n规格：\n")
		for i, spec := range content.Texts.Specifications {
			fmt.Fprintf(&b, "%d. %s\n", i+1, spec)
		}
	}
	bb := content.DetailPage.BuyBox
	fmt.Fprintf(&b, "\n💰 %s", bb.Price)
	if bb.OriginalPrice != "" {
		fmt.Fprintf(&b, "（原价 %s）", bb.OriginalPrice)
	}
	fmt.Fprintf(&b, "\n🖼 主图 %d 张，详情图 %d 张\n",
		len(content.ImagesOfKind(model.KindMain)), len(content.ImagesOfKind(model.KindDetail)))
	b.WriteString("\n修改规格：/spec <序号> <文本>")

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, img := range content.Images {
		rows = append(rows, row(
			button("🖼 "+img.ID, cb(ownerID, "img", img.ID)),
			button("🎨 重绘 "+img.ID, cb(ownerID, "rd", img.ID)),
		))
	}
	rows = append(rows,
		row(button("✏️ 标题", cb(ownerID, "ask", string(wizard.InputTitle))),
			button("✏️ 描述", cb(ownerID, "ask", string(wizard.InputDescription)))),
		row(button("📦 导出", cb(ownerID, "exp")),
			button("➕ 新商品", cb(ownerID, "nav", string(wizard.StepUpload)))),
		row(button("🕘 历史记录", cb(ownerID, "nav", string(wizard.StepHistory))),
			button("⚙️ 设置", cb(ownerID, "nav", string(wizard.StepSettings)))),
	)
	return strings.TrimSpace(b.String()), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func settingsScreen(ws *app.App, ownerID int64) (string, tgbotapi.InlineKeyboardMarkup) {
	s := ws.Settings()
	apiKey := app.MaskKey(s.APIKey)
	if apiKey == "" {
		apiKey = "（未设置，使用演示内容）"
	}
	exportPath := s.ExportPath
	if exportPath == "" {
		exportPath = "（未设置）"
	}

	var b strings.Builder
	b.WriteString("⚙️ 设置\n\n")
	fmt.Fprintf(&b, "API Key：%s\n", apiKey)
	fmt.Fprintf(&b, "API 地址：%s\n", s.BaseURL)
	fmt.Fprintf(&b, "导出目录：%s\n", exportPath)
	fmt.Fprintf(&b, "默认平台：%s，默认风格：%s\n", platformName(s.DefaultPlatform), styleName(s.DefaultStyle))
	b.WriteString("\n其他设置：/set <key> <value>")

	var themes []tgbotapi.InlineKeyboardButton
	for _, o := range themeNames {
		themes = append(themes, button(check(o.Name, o.Key == s.Theme), cb(ownerID, "th", string(o.Key))))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		themes,
		row(button("🔑 API Key", cb(ownerID, "ask", string(wizard.InputAPIKey))),
			button("🌐 API 地址", cb(ownerID, "ask", string(wizard.InputBaseURL)))),
		row(button("📁 导出目录", cb(ownerID, "ask", string(wizard.InputExportPath)))),
		row(button("⬅ 返回", cb(ownerID, "nav", string(wizard.StepUpload)))),
	)
	return strings.TrimSpace(b.String()), kb
}

func historyScreen(ws *app.App, ownerID int64, page int) (string, tgbotapi.InlineKeyboardMarkup) {
	entries := ws.Histories()
	if len(entries) == 0 {
		return "🕘 暂无历史记录。", tgbotapi.NewInlineKeyboardMarkup(
			row(button("⬅ 返回", cb(ownerID, "nav", string(wizard.StepUpload)))),
		)
	}

	pages := (len(entries) + historyPageSize - 1) / historyPageSize
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	start := page * historyPageSize
	end := start + historyPageSize
	if end > len(entries) {
		end = len(entries)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🕘 历史记录（%d/%d）\n\n", page+1, pages)
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, e := range entries[start:end] {
		created := time.UnixMilli(e.CreatedAt).Format("01-02 15:04")
		fmt.Fprintf(&b, "%d. %s %s · %s · %d 张图\n", start+i+1, created, truncateLine(e.Texts.Title, 30), platformName(e.Platform), len(e.Images))
		rows = append(rows, row(
			button(fmt.Sprintf("📂 打开 %d", start+i+1), cb(ownerID, "hl", e.ID)),
			button("🗑", cb(ownerID, "hd", e.ID)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, button("◀", cb(ownerID, "hp", strconv.Itoa(page-1))))
	}
	if page < pages-1 {
		nav = append(nav, button("▶", cb(ownerID, "hp", strconv.Itoa(page+1))))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, row(button("⬅ 返回", cb(ownerID, "nav", string(wizard.StepUpload)))))
	return strings.TrimSpace(b.String()), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func platformName(p model.Platform) string {
	for _, o := range platformNames {
		if o.Key == p {
			return o.Name
		}
	}
	return string(p)
}

func styleName(s model.Style) string {
	for _, o := range styleNames {
		if o.Key == s {
			return o.Name
		}
	}
	return string(s)
}

func modelName(m model.Model) string {
	for _, o := range modelNames {
		if o.Key == m {
			return o.Name
		}
	}
	return string(m)
}

func languageName(l model.Language) string {
	for _, o := range languageNames {
		if o.Key == l {
			return o.Name
		}
	}
	return string(l)
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func row(buttons ...tgbotapi.InlineKeyboardButton) []tgbotapi.InlineKeyboardButton {
	return buttons
}

func check(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return label
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
