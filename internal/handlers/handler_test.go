package handlers

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"banana-mall/internal/app"
	"banana-mall/internal/generative"
	"banana-mall/internal/mediagroup"
	"banana-mall/internal/model"
	"banana-mall/internal/session"
	"banana-mall/internal/store"
	"banana-mall/internal/wizard"
)

const (
	chatID = int64(100)
	userID = int64(7)
)

var photo = []byte{0xff, 0xd8, 0xff, 0xe0, 'J', 'F', 'I', 'F'}

type sent struct {
	kind string
	text string
	name string
	kb   tgbotapi.InlineKeyboardMarkup
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	out     []sent
	answers []string
	alerts  int
	// latency delays keyboard sends, like a slow Bot API round trip.
	latency time.Duration
}

func (f *fakeMessenger) record(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, s)
}

func (f *fakeMessenger) SendTyping(int64) {}

func (f *fakeMessenger) SendText(_ int64, text string) error {
	f.record(sent{kind: "text", text: text})
	return nil
}

func (f *fakeMessenger) SendTextWithKeyboard(_ int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	latency := f.latency
	f.mu.Unlock()
	time.Sleep(latency)
	f.record(sent{kind: "menu", text: text, kb: kb})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) EditTextWithKeyboard(_ int64, _ int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	f.record(sent{kind: "edit", text: text, kb: kb})
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	if alert {
		f.alerts++
	}
	return nil
}

func (f *fakeMessenger) SendPhotoBytes(_ int64, name string, _ []byte, caption string) error {
	f.record(sent{kind: "photo", name: name, text: caption})
	return nil
}

func (f *fakeMessenger) SendDocument(_ int64, name string, _ []byte, _ string) error {
	f.record(sent{kind: "document", name: name})
	return nil
}

func (f *fakeMessenger) DownloadFile(context.Context, string) ([]byte, string, error) {
	return photo, "image/jpeg", nil
}

func (f *fakeMessenger) of(kind string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.out {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeMessenger) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return sent{}
	}
	return f.out[len(f.out)-1]
}

type fixture struct {
	h        *Handler
	tg       *fakeMessenger
	wz       *wizard.Store
	sessions *session.Store
}

func newFixture(t *testing.T) *fixture {
	return newSlowFixture(t, 0)
}

// newSlowFixture scales the mock backend's latency by mockDelay.
func newSlowFixture(t *testing.T, mockDelay time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()
	sessions := session.NewStore(session.Options{
		Factory: func(ctx context.Context, _ int64) (*app.App, error) {
			st, err := store.Open(ctx, store.Options{Dir: dir})
			if err != nil {
				return nil, err
			}
			return app.New(app.Options{Store: st, Deps: generative.Deps{MockDelay: mockDelay}})
		},
	})
	tg := &fakeMessenger{}
	wz := wizard.NewStore()
	h := New(Options{Telegram: tg, Sessions: sessions, Wizard: wz})
	return &fixture{h: h, tg: tg, wz: wz, sessions: sessions}
}

func (fx *fixture) workspace(t *testing.T) *app.App {
	t.Helper()
	ws, err := fx.sessions.Workspace(context.Background(), userID, "")
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func (fx *fixture) send(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	if err := fx.h.HandleUpdate(context.Background(), update); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
}

func message(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func photoMessage() tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Photo:     []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func hasButton(kb tgbotapi.InlineKeyboardMarkup, data string) bool {
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil && *b.CallbackData == data {
				return true
			}
		}
	}
	return false
}

// generate uploads a photo and runs a small generation until the editing
// screen is shown.
func (fx *fixture) generate(t *testing.T) {
	t.Helper()
	fx.send(t, photoMessage())
	fx.send(t, message("/set main 1"))
	fx.send(t, message("/set detail 1"))
	fx.send(t, callback(userID, cb(userID, "gen")))

	deadline := time.Now().Add(10 * time.Second)
	for fx.wz.Get(chatID, userID).Step != wizard.StepEditing {
		if time.Now().After(deadline) {
			t.Fatalf("step = %s, want editing", fx.wz.Get(chatID, userID).Step)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartShowsUploadScreen(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, message("/start"))

	if texts := fx.tg.of("text"); len(texts) != 1 || !strings.Contains(texts[0].text, "/export") {
		t.Fatalf("help not sent: %+v", texts)
	}
	menu := fx.tg.last()
	if menu.kind != "menu" || !hasButton(menu.kb, cb(userID, "nav", "history")) {
		t.Fatalf("upload screen = %+v", menu)
	}
	if fx.wz.Get(chatID, userID).MessageID == 0 {
		t.Fatal("menu message id not stored")
	}
}

func TestUploadMovesToConfig(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, photoMessage())

	if st := fx.wz.Get(chatID, userID); st.Step != wizard.StepConfig {
		t.Fatalf("step = %s", st.Step)
	}
	if _, ok := fx.workspace(t).Product(); !ok {
		t.Fatal("no product after upload")
	}
	menu := fx.tg.last()
	if !hasButton(menu.kb, cb(userID, "pf", "jd")) || !hasButton(menu.kb, cb(userID, "gen")) {
		t.Fatalf("config keyboard = %+v", menu.kb)
	}
}

func TestPlatformCallback(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, photoMessage())
	fx.send(t, callback(userID, cb(userID, "pf", "jd")))

	if got := fx.workspace(t).Settings().DefaultPlatform; got != model.PlatformJD {
		t.Fatalf("platform = %s", got)
	}
	if edit := fx.tg.last(); edit.kind != "edit" || !strings.Contains(edit.text, "京东") {
		t.Fatalf("config screen not redrawn: %+v", edit)
	}
}

func TestCountCallbackIsClamped(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, photoMessage())
	fx.send(t, message("/set detail 5"))
	fx.send(t, callback(userID, cb(userID, "cnt", "detail", "1")))

	if got := fx.workspace(t).Settings().DetailImageCount; got != model.MaxDetailImages {
		t.Fatalf("detail count = %d", got)
	}
}

func TestForeignCallbackIsRejected(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, photoMessage())
	fx.send(t, callback(userID+1, cb(userID, "pf", "jd")))

	if fx.tg.alerts != 1 {
		t.Fatalf("alerts = %d", fx.tg.alerts)
	}
	if got := fx.workspace(t).Settings().DefaultPlatform; got != model.PlatformAmazon {
		t.Fatalf("platform changed by another user: %s", got)
	}
}

func TestGenerateReachesEditing(t *testing.T) {
	fx := newFixture(t)
	fx.generate(t)

	if photos := fx.tg.of("photo"); len(photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(photos))
	}
	if st := fx.wz.Get(chatID, userID); st.RequestID != "" {
		t.Fatalf("request id kept after leaving generating: %q", st.RequestID)
	}
	ws := fx.workspace(t)
	if _, ok := ws.Current(); !ok {
		t.Fatal("no current result")
	}
	if len(ws.Histories()) != 1 {
		t.Fatalf("histories = %d", len(ws.Histories()))
	}
}

func TestConcurrentGenerateTapsStartOneRun(t *testing.T) {
	fx := newSlowFixture(t, 50*time.Millisecond)
	fx.send(t, photoMessage())
	fx.send(t, message("/set main 1"))
	fx.send(t, message("/set detail 1"))
	fx.tg.mu.Lock()
	fx.tg.latency = 50 * time.Millisecond
	fx.tg.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fx.h.HandleUpdate(context.Background(), callback(userID, cb(userID, "gen"))); err != nil {
				t.Errorf("HandleUpdate: %v", err)
			}
		}()
	}
	wg.Wait()

	ws := fx.workspace(t)
	run, ok := ws.Active()
	if !ok {
		t.Fatal("no run started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := run.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for fx.wz.Get(chatID, userID).Step != wizard.StepEditing {
		if time.Now().After(deadline) {
			t.Fatalf("step = %s, want editing", fx.wz.Get(chatID, userID).Step)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := len(ws.Histories()); n != 1 {
		t.Fatalf("histories = %d, want 1", n)
	}
	busy := 0
	for _, s := range fx.tg.of("text") {
		if strings.Contains(s.text, "已有生成任务") {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("busy notices = %d, want 1", busy)
	}
	if photos := fx.tg.of("photo"); len(photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(photos))
	}
}

func TestTitleCommand(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, message("/title 新标题"))
	if last := fx.tg.last(); !strings.Contains(last.text, app.ErrNoResult.Error()) {
		t.Fatalf("want no-result error, got %+v", last)
	}

	fx.generate(t)
	fx.send(t, message("/title 新标题"))
	cur, _ := fx.workspace(t).Current()
	if cur.Texts.Title != "新标题" {
		t.Fatalf("title = %q", cur.Texts.Title)
	}
}

func TestAwaitedInput(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, photoMessage())
	fx.send(t, callback(userID, cb(userID, "ask", string(wizard.InputBrand))))
	if st := fx.wz.Get(chatID, userID); st.Awaiting != wizard.InputBrand {
		t.Fatalf("awaiting = %q", st.Awaiting)
	}
	fx.send(t, message("Acme"))

	if got := fx.workspace(t).Settings().BrandName; got != "Acme" {
		t.Fatalf("brand = %q", got)
	}
	if st := fx.wz.Get(chatID, userID); st.Awaiting != wizard.InputNone {
		t.Fatal("input still pending")
	}
}

var stampedName = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z_`)

func TestExportSendsStampedDocuments(t *testing.T) {
	fx := newFixture(t)
	fx.generate(t)
	fx.send(t, message("/export"))

	docs := fx.tg.of("document")
	if len(docs) != 5 {
		t.Fatalf("documents = %d, want 5", len(docs))
	}
	stamp := stampedName.FindString(docs[0].name)
	if stamp == "" || docs[0].name != stamp+"content.json" {
		t.Fatalf("first document = %q", docs[0].name)
	}
	for _, d := range docs {
		if !strings.HasPrefix(d.name, stamp) {
			t.Fatalf("%q does not share the stamp %q", d.name, stamp)
		}
	}
}

func TestSetCommand(t *testing.T) {
	fx := newFixture(t)
	fx.send(t, message("/set language en"))
	if got := fx.workspace(t).Settings().SelectedLanguage; got != model.LanguageEN {
		t.Fatalf("language = %s", got)
	}

	fx.send(t, message("/set platform ebay"))
	if last := fx.tg.last(); !strings.HasPrefix(last.text, "❌") {
		t.Fatalf("invalid value accepted: %+v", last)
	}
	if got := fx.workspace(t).Settings().DefaultPlatform; got != model.PlatformAmazon {
		t.Fatalf("platform = %s", got)
	}
}

func TestAlbumUsesFirstPhoto(t *testing.T) {
	fx := newFixture(t)
	fx.h.HandleMediaGroup(context.Background(), mediagroup.Group{
		ChatID: chatID,
		UserID: userID,
		Files:  []mediagroup.File{{ID: "a", MimeType: "image/jpeg"}, {ID: "b", MimeType: "image/jpeg"}},
	})

	if texts := fx.tg.of("text"); len(texts) == 0 || !strings.Contains(texts[0].text, "2") {
		t.Fatalf("album notice missing: %+v", texts)
	}
	if st := fx.wz.Get(chatID, userID); st.Step != wizard.StepConfig {
		t.Fatalf("step = %s", st.Step)
	}
}
