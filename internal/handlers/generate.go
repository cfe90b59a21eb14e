package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"banana-mall/internal/app"
	"banana-mall/internal/pipeline"
	"banana-mall/internal/wizard"
)

// startGeneration launches a run for the active product. A tap while a run
// is still going re-renders its progress instead of starting another.
func (h *Handler) startGeneration(ctx context.Context, chatID, userID int64, username string) error {
	ws, err := h.sessions.Workspace(ctx, userID, username)
	if err != nil {
		return h.fail(chatID, "open workspace", err)
	}
	if _, ok := ws.Product(); !ok {
		return h.userError(chatID, app.ErrNoProduct)
	}

	requestID := uuid.NewString()
	initial := pipeline.Progress{RequestID: requestID, State: pipeline.StateInitializing}

	// The progress message is sent after the run is claimed; edits before
	// it exists are dropped.
	var (
		mu    sync.Mutex
		msgID int
		last  = progressText(initial)
	)
	progress := func(p pipeline.Progress) {
		text := progressText(p)
		mu.Lock()
		defer mu.Unlock()
		if msgID == 0 || text == last {
			return
		}
		last = text
		if err := h.tg.EditTextWithKeyboard(chatID, msgID, text, progressKeyboard(userID, p.State)); err != nil {
			h.logger.Warn("progress update failed", "request_id", requestID, "err", err)
		}
	}

	run, started, err := ws.GenerateIfIdle(h.runCtx, requestID, progress)
	if err != nil {
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) { st.Go(wizard.StepConfig) })
		return h.userError(chatID, err)
	}
	if !started {
		_ = h.tg.SendText(chatID, "⏳ 已有生成任务在进行中。")
		h.wizard.Update(chatID, userID, func(st *wizard.UIState) {
			st.Go(wizard.StepGenerating)
			st.RequestID = run.ID()
		})
		return h.render(ctx, chatID, userID, username, false)
	}
	h.logger.Info("generation started", "user_id", userID, "request_id", requestID)

	id, err := h.tg.SendTextWithKeyboard(chatID, progressText(initial), progressKeyboard(userID, initial.State))
	if err != nil {
		h.logger.Warn("progress message failed", "request_id", requestID, "err", err)
	}
	mu.Lock()
	msgID = id
	mu.Unlock()

	h.wizard.Update(chatID, userID, func(st *wizard.UIState) {
		st.Go(wizard.StepGenerating)
		st.RequestID = requestID
		if id != 0 {
			st.MessageID = id
		}
	})

	go h.awaitRun(ws, run, chatID, userID, username)
	return nil
}

// awaitRun delivers the outcome of a run. The wizard only moves on if the
// chat is still showing that run.
func (h *Handler) awaitRun(ws *app.App, run *pipeline.Run, chatID, userID int64, username string) {
	ctx := h.runCtx
	content, err := run.Wait(ctx)
	requestID := run.ID()
	ws.Forget(requestID)

	following := h.wizard.Get(chatID, userID).RequestID == requestID
	next := wizard.StepConfig

	switch run.State() {
	case pipeline.StateComplete:
		h.logger.Info("generation complete", "user_id", userID, "request_id", requestID, "images", len(content.Images))
		for _, img := range content.Images {
			art, err := ws.Image(ctx, img.ID)
			if err != nil {
				h.logger.Warn("image unavailable", "image_id", img.ID, "err", err)
				continue
			}
			if err := h.tg.SendPhotoBytes(chatID, art.Name, art.Data, img.ID); err != nil {
				h.logger.Warn("send image failed", "image_id", img.ID, "err", err)
			}
		}
		next = wizard.StepEditing
	case pipeline.StateCancelled:
		_ = h.tg.SendText(chatID, "⏹ 已取消生成。")
	default:
		h.logger.Error("generation failed", "user_id", userID, "request_id", requestID, "err", err)
		msg := "❌ 生成失败"
		if err != nil {
			msg += "：" + err.Error()
		}
		_ = h.tg.SendText(chatID, msg)
	}

	if !following {
		if next == wizard.StepEditing {
			_ = h.tg.SendText(chatID, "✅ 生成完成，发送 /history 查看。")
		}
		return
	}
	h.wizard.Update(chatID, userID, func(st *wizard.UIState) {
		if st.RequestID == requestID {
			st.Go(next)
		}
	})
	if err := h.render(ctx, chatID, userID, username, false); err != nil {
		h.logger.Warn("render after generation failed", "err", err)
	}
}
