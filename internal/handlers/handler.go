package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"banana-mall/internal/app"
	"banana-mall/internal/export"
	"banana-mall/internal/mediagroup"
	"banana-mall/internal/store"
	"banana-mall/internal/wizard"
)

// Messenger is the part of the Telegram client the handler drives.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhotoBytes(chatID int64, name string, data []byte, caption string) error
	SendDocument(chatID int64, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// Workspaces hands out the per-user application state.
type Workspaces interface {
	Workspace(ctx context.Context, userID int64, username string) (*app.App, error)
}

type Options struct {
	Telegram Messenger
	Sessions Workspaces
	Wizard   *wizard.Store
	// ExportSink receives every export in addition to the chat download.
	ExportSink export.Sink
	// RunContext parents generation runs, which outlive the update that
	// started them.
	RunContext context.Context
	Logger     *slog.Logger
}

type Handler struct {
	tg         Messenger
	sessions   Workspaces
	wizard     *wizard.Store
	exportSink export.Sink
	runCtx     context.Context
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	wz := opts.Wizard
	if wz == nil {
		wz = wizard.NewStore()
	}
	runCtx := opts.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}

	return &Handler{
		tg:         opts.Telegram,
		sessions:   opts.Sessions,
		wizard:     wz,
		exportSink: opts.ExportSink,
		runCtx:     runCtx,
		logger:     logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID
	username := msg.From.UserName

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, username, msg)
	}

	if fileID, mimeType, ok := uploadedImage(msg); ok {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       chatID,
				UserID:       userID,
				Username:     username,
				MediaGroupID: msg.MediaGroupID,
				FileID:       fileID,
				MimeType:     mimeType,
			})
			return nil
		}
		return h.handleUpload(ctx, chatID, userID, username, fileID, mimeType)
	}

	if msg.Document != nil {
		return h.tg.SendText(chatID, "❌ "+app.ErrNotImage.Error()+"（JPG / PNG / WebP）")
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, userID, username, msg.Text)
	}
	return nil
}

// HandleMediaGroup treats an album as one upload of its first photo.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if len(group.Files) == 0 {
		return
	}
	if len(group.Files) > 1 {
		_ = h.tg.SendText(group.ChatID, fmt.Sprintf("ℹ️ 收到 %d 张图片，将使用第一张作为商品图。", len(group.Files)))
	}
	first := group.Files[0]
	if err := h.handleUpload(ctx, group.ChatID, group.UserID, group.Username, first.ID, first.MimeType); err != nil {
		h.logger.Error("media group upload failed", "err", err)
	}
}

// uploadedImage returns the file carrying a product photo: the largest
// photo size, or an image sent as a document.
func uploadedImage(msg *tgbotapi.Message) (fileID, mimeType string, ok bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg", true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, msg.Document.MimeType, true
	}
	return "", "", false
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		h.wizard.Reset(chatID, userID)
		if err := h.tg.SendText(chatID, helpText); err != nil {
			return err
		}
		return h.render(ctx, chatID, userID, username, false)
	case "new":
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepUpload) })
		return h.render(ctx, chatID, userID, username, false)
	case "settings":
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepSettings) })
		return h.render(ctx, chatID, userID, username, false)
	case "history":
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepHistory) })
		return h.render(ctx, chatID, userID, username, false)
	case "set":
		return h.setCommand(ctx, chatID, userID, username, args)
	case "title":
		return h.textCommand(ctx, chatID, userID, username, wizard.InputTitle, args)
	case "desc":
		return h.textCommand(ctx, chatID, userID, username, wizard.InputDescription, args)
	case "spec":
		return h.specCommand(ctx, chatID, userID, username, args)
	case "redraw":
		return h.redrawCommand(ctx, chatID, userID, username, args)
	case "export":
		return h.export(ctx, chatID, userID, username)
	case "cancel":
		return h.cancel(ctx, chatID, userID, username)
	default:
		return h.tg.SendText(chatID, "❌ 未知命令，发送 /help 查看用法。")
	}
}

const helpText = "🍌 Banana Mall\n\n" +
	"发送一张商品照片，选择平台和风格，即可生成标题、描述、卖点、主图和详情图。\n\n" +
	"/new - 上传新商品\n" +
	"/settings - 设置\n" +
	"/set <key> <value> - 修改设置\n" +
	"/history - 历史记录\n" +
	"/title <文本> - 修改标题\n" +
	"/desc <文本> - 修改描述\n" +
	"/spec <序号> <文本> - 修改规格\n" +
	"/redraw <图片ID> <提示词> - 重绘图片\n" +
	"/export - 导出全部内容\n" +
	"/cancel - 取消"

func (h *Handler) handleUpload(ctx context.Context, chatID, userID int64, username, fileID, mimeType string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if run, ok := ws.Active(); ok && !run.State().Terminal() {
		return h.tg.SendText(chatID, "⏳ 正在生成中，完成或 /cancel 后再上传新商品。")
	}

	h.tg.SendTyping(chatID)
	data, detected, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ 图片下载失败，请重试。")
	}
	if detected != "" && detected != "application/octet-stream" {
		mimeType = detected
	}

	_ = h.tg.SendText(chatID, "🔍 正在分析商品…")
	product, err := ws.Upload(ctx, data, mimeType)
	if err != nil {
		if errors.Is(err, app.ErrNotImage) {
			return h.tg.SendText(chatID, "❌ "+err.Error())
		}
		return h.fail(chatID, "upload", err)
	}

	h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepConfig) })
	_ = h.tg.SendText(chatID, productSummary(product))
	return h.render(ctx, chatID, userID, username, false)
}

func (h *Handler) handleText(ctx context.Context, chatID int64, userID int64, username string, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	st := h.wizard.Get(chatID, userID)
	if st.Awaiting == wizard.InputNone {
		if st.Step == wizard.StepUpload {
			return h.tg.SendText(chatID, "📷 请发送商品照片。")
		}
		return h.tg.SendText(chatID, "ℹ️ 请使用下方按钮操作，或发送 /help 查看命令。")
	}

	h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Await(wizard.InputNone, "") })
	return h.applyInput(ctx, chatID, userID, username, st.Awaiting, st.Target, text)
}

// applyInput routes a piece of free text to the action that asked for it.
func (h *Handler) applyInput(ctx context.Context, chatID, userID int64, username string, in wizard.Input, target, text string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}

	switch in {
	case wizard.InputTitle, wizard.InputDescription:
		edit := app.TextEdit{Title: &text}
		if in == wizard.InputDescription {
			edit = app.TextEdit{Description: &text}
		}
		if _, err := ws.EditTexts(ctx, edit); err != nil {
			return h.userError(chatID, err)
		}
		_ = h.tg.SendText(chatID, "✅ 已保存")
		return h.render(ctx, chatID, userID, username, false)
	case wizard.InputRedraw:
		return h.redraw(ctx, chatID, userID, username, target, text)
	case wizard.InputBrand, wizard.InputExtra, wizard.InputAPIKey, wizard.InputBaseURL, wizard.InputExportPath:
		if text == "-" {
			text = ""
		}
		return h.applySetting(ctx, chatID, userID, username, settingKey[in], text)
	}
	return nil
}

var settingKey = map[wizard.Input]string{
	wizard.InputBrand:      "brand",
	wizard.InputExtra:      "extra",
	wizard.InputAPIKey:     "apikey",
	wizard.InputBaseURL:    "baseurl",
	wizard.InputExportPath: "exportpath",
}

func (h *Handler) setCommand(ctx context.Context, chatID, userID int64, username, args string) error {
	key, value, ok := splitFirst(args)
	if !ok {
		return h.tg.SendText(chatID, "用法：/set <key> <value>\nkey: "+strings.Join(app.SettingKeys, ", "))
	}
	return h.applySetting(ctx, chatID, userID, username, key, value)
}

func (h *Handler) applySetting(ctx context.Context, chatID, userID int64, username, key, value string) error {
	patch, err := app.ParseSetting(key, value)
	if err != nil {
		return h.tg.SendText(chatID, "❌ "+err.Error())
	}
	return h.configure(ctx, chatID, userID, username, patch)
}

func (h *Handler) configure(ctx context.Context, chatID, userID int64, username string, patch store.SettingsPatch) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if _, err := ws.Configure(ctx, patch); err != nil {
		return h.fail(chatID, "save settings", err)
	}
	return h.render(ctx, chatID, userID, username, true)
}

func (h *Handler) textCommand(ctx context.Context, chatID, userID int64, username string, in wizard.Input, args string) error {
	if args == "" {
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Await(in, "") })
		return h.tg.SendText(chatID, "✏️ 请发送新的内容（/cancel 取消）。")
	}
	return h.applyInput(ctx, chatID, userID, username, in, "", args)
}

func (h *Handler) specCommand(ctx context.Context, chatID, userID int64, username, args string) error {
	index, text, err := parseSpecArgs(args)
	if err != nil {
		return h.tg.SendText(chatID, "用法：/spec <序号> <文本>")
	}
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if _, err := ws.EditTexts(ctx, app.TextEdit{Specs: map[int]string{index: text}}); err != nil {
		return h.userError(chatID, err)
	}
	_ = h.tg.SendText(chatID, "✅ 已保存")
	return h.render(ctx, chatID, userID, username, false)
}

func (h *Handler) redrawCommand(ctx context.Context, chatID, userID int64, username, args string) error {
	imageID, prompt, _ := splitFirst(args)
	if imageID == "" {
		return h.tg.SendText(chatID, "用法：/redraw <图片ID> <提示词>")
	}
	if prompt == "" {
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Await(wizard.InputRedraw, imageID) })
		return h.tg.SendText(chatID, fmt.Sprintf("🎨 请描述 %s 要如何修改（/cancel 取消）。", imageID))
	}
	return h.redraw(ctx, chatID, userID, username, imageID, prompt)
}

func (h *Handler) redraw(ctx context.Context, chatID, userID int64, username, imageID, prompt string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}

	h.tg.SendTyping(chatID)
	_ = h.tg.SendText(chatID, "🎨 正在重绘 "+imageID+"…")
	img, err := ws.RegenerateImage(ctx, imageID, prompt)
	if err != nil {
		return h.userError(chatID, err)
	}
	art, err := ws.Image(ctx, img.ID)
	if err != nil {
		return h.fail(chatID, "load image", err)
	}
	return h.tg.SendPhotoBytes(chatID, art.Name, art.Data, "✅ "+img.ID+"："+prompt)
}

func (h *Handler) sendImage(ctx context.Context, chatID, userID int64, username, imageID string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	art, err := ws.Image(ctx, imageID)
	if err != nil {
		return h.userError(chatID, err)
	}
	return h.tg.SendPhotoBytes(chatID, art.Name, art.Data, imageID)
}

func (h *Handler) export(ctx context.Context, chatID, userID int64, username string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}

	var sink export.Sink = export.DownloadSink{Send: func(_ context.Context, name string, a export.Artifact) error {
		return h.tg.SendDocument(chatID, name, a.Data, "")
	}}
	if h.exportSink != nil {
		sink = export.MultiSink{sink, h.exportSink}
	}

	_ = h.tg.SendText(chatID, "📦 正在导出…")
	res, err := ws.Export(ctx, sink, export.Options{HTML: true})
	if err != nil {
		return h.userError(chatID, err)
	}
	return h.tg.SendText(chatID, fmt.Sprintf("✅ 导出成功，共 %d 个文件。", len(res.Files)))
}

func (h *Handler) cancel(ctx context.Context, chatID, userID int64, username string) error {
	st := h.wizard.Get(chatID, userID)
	if st.Awaiting != wizard.InputNone {
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Await(wizard.InputNone, "") })
		return h.tg.SendText(chatID, "✅ 已取消输入。")
	}

	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if ws.Cancel() {
		return h.tg.SendText(chatID, "⏹ 正在取消生成…")
	}
	return h.tg.SendText(chatID, "ℹ️ 当前没有可取消的操作。")
}

// userError reports errors the user can act on verbatim and logs the rest.
func (h *Handler) userError(chatID int64, err error) error {
	switch {
	case errors.Is(err, app.ErrNoResult), errors.Is(err, app.ErrNoProduct),
		errors.Is(err, app.ErrImageNotFound), errors.Is(err, app.ErrSpecOutOfRange),
		errors.Is(err, app.ErrEmptyPrompt), errors.Is(err, app.ErrNotImage),
		errors.Is(err, store.ErrHistoryNotFound):
		return h.tg.SendText(chatID, "❌ "+err.Error())
	}
	return h.fail(chatID, "request", err)
}

func (h *Handler) fail(chatID int64, op string, err error) error {
	h.logger.Error(op+" failed", "chat_id", chatID, "err", err)
	return h.tg.SendText(chatID, "❌ 操作失败："+err.Error())
}
