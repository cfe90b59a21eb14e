package app

import (
	"context"
	"errors"
	"os"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"banana-mall/internal/export"
	"banana-mall/internal/generative"
	"banana-mall/internal/model"
	"banana-mall/internal/pipeline"
	"banana-mall/internal/store"
)

var photo = []byte{0xff, 0xd8, 0xff, 0xe0, 'J', 'F', 'I', 'F'}

func ptr[T any](v T) *T { return &v }

func newApp(t *testing.T) *App {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(Options{Store: st})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// generated runs one small generation to completion.
func generated(t *testing.T, a *App) model.GeneratedContent {
	t.Helper()
	ctx := context.Background()
	if _, err := a.Upload(ctx, photo, "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Configure(ctx, store.SettingsPatch{MainImageCount: ptr(2), DetailImageCount: ptr(1)}); err != nil {
		t.Fatal(err)
	}
	run, err := a.Generate(ctx, "req-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	content, err := run.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return content
}

func TestUpload(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	if _, err := a.Upload(ctx, []byte("%PDF-1.4"), "application/pdf"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("err = %v, want ErrNotImage", err)
	}
	if _, ok := a.Product(); ok {
		t.Fatal("rejected upload became the product")
	}

	p, err := a.Upload(ctx, photo, "image/jpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if p.ID == "" || p.Category == "" || p.Analysis == nil {
		t.Fatalf("product = %+v", p)
	}
	if len(p.Tags) == 0 || len(p.Tags) > maxTags {
		t.Fatalf("tags = %v", p.Tags)
	}
	if p.Tags[0] != p.Analysis.Specifications[0] {
		t.Fatal("tags are not the leading specifications")
	}
	if got, _ := p.ImageBytes(); string(got) != string(photo) {
		t.Fatal("upload payload not kept")
	}
}

func TestGenerateRequiresProduct(t *testing.T) {
	a := newApp(t)
	if _, err := a.Generate(context.Background(), "r", nil); !errors.Is(err, ErrNoProduct) {
		t.Fatalf("err = %v", err)
	}
	if a.Cancel() {
		t.Fatal("Cancel reported a run with nothing started")
	}
}

func TestGenerateFlow(t *testing.T) {
	a := newApp(t)
	content := generated(t, a)

	if len(content.Images) != 3 {
		t.Fatalf("images = %d, want 3", len(content.Images))
	}
	run, _ := a.Generate(context.Background(), "req-1", nil)
	if run.State() != pipeline.StateComplete {
		t.Fatalf("repeated Generate returned a new run in state %s", run.State())
	}
	if len(a.Histories()) != 1 {
		t.Fatalf("histories = %d", len(a.Histories()))
	}
	if cur, ok := a.Current(); !ok || cur.Texts.Title != content.Texts.Title {
		t.Fatal("current result not stored")
	}
}

func TestGenerateIfIdleStartsOneRun(t *testing.T) {
	st, err := store.Open(context.Background(), store.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(Options{Store: st, Deps: generative.Deps{MockDelay: 20 * time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := a.Upload(ctx, photo, "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Configure(ctx, store.SettingsPatch{MainImageCount: ptr(1), DetailImageCount: ptr(1)}); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		started atomic.Int32
		runs    sync.Map
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, ok, err := a.GenerateIfIdle(ctx, fmt.Sprintf("tap-%d", i), nil)
			if err != nil {
				t.Errorf("GenerateIfIdle: %v", err)
				return
			}
			if ok {
				started.Add(1)
			}
			runs.Store(run, true)
		}(i)
	}
	wg.Wait()

	if n := started.Load(); n != 1 {
		t.Fatalf("started = %d, want 1", n)
	}
	distinct := 0
	runs.Range(func(any, any) bool { distinct++; return true })
	if distinct != 1 {
		t.Fatalf("callers saw %d runs, want 1", distinct)
	}

	run, _ := a.Active()
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := run.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(a.Histories()); n != 1 {
		t.Fatalf("histories = %d, want 1", n)
	}

	next, ok, err := a.GenerateIfIdle(ctx, "after", nil)
	if err != nil || !ok || next == run {
		t.Fatalf("finished run blocked a new one: ok=%v err=%v", ok, err)
	}
	next.Cancel()
	<-next.Done()
}

func TestEditTexts(t *testing.T) {
	a := newApp(t)
	generated(t, a)
	ctx := context.Background()

	texts, err := a.EditTexts(ctx, TextEdit{Title: ptr("新标题"), Specs: map[int]string{0: "功率：10W"}})
	if err != nil {
		t.Fatalf("EditTexts: %v", err)
	}
	if texts.Title != "新标题" || texts.Specifications[0] != "功率：10W" {
		t.Fatalf("texts = %+v", texts)
	}
	if cur, _ := a.Current(); cur.Texts.Title != "新标题" {
		t.Fatal("edit not persisted")
	}

	if _, err := a.EditTexts(ctx, TextEdit{Specs: map[int]string{99: "x"}}); !errors.Is(err, ErrSpecOutOfRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegenerateImage(t *testing.T) {
	a := newApp(t)
	before := generated(t, a)
	ctx := context.Background()

	if _, err := a.RegenerateImage(ctx, "detail-0", "  "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v", err)
	}
	if _, err := a.RegenerateImage(ctx, "main-9", "x"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("err = %v", err)
	}

	img, err := a.RegenerateImage(ctx, "detail-0", "换成木纹背景")
	if err != nil {
		t.Fatalf("RegenerateImage: %v", err)
	}
	if img.ID != "detail-0" || img.Prompt != "换成木纹背景" || img.Type != model.KindDetail {
		t.Fatalf("image = %+v", img)
	}

	cur, _ := a.Current()
	if len(cur.Images) != len(before.Images) {
		t.Fatal("image count changed")
	}
	if cur.Images[2].URL == before.Images[2].URL {
		t.Fatal("image reference not replaced")
	}
	if cur.Images[0] != before.Images[0] {
		t.Fatal("other images touched")
	}
}

func TestHistoryAndExport(t *testing.T) {
	a := newApp(t)
	generated(t, a)
	ctx := context.Background()

	entry := a.Histories()[0]
	if _, err := a.EditTexts(ctx, TextEdit{Title: ptr("edited")}); err != nil {
		t.Fatal(err)
	}
	loaded, err := a.LoadHistory(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Texts.Title != entry.Texts.Title {
		t.Fatal("history entry not restored as current")
	}

	if _, err := a.ExportDir(ctx, "", export.Options{}); !errors.Is(err, export.ErrNoDirectory) {
		t.Fatalf("err = %v, want ErrNoDirectory", err)
	}
	dir := t.TempDir()
	if _, err := a.Configure(ctx, store.SettingsPatch{ExportPath: ptr(dir)}); err != nil {
		t.Fatal(err)
	}
	res, err := a.ExportDir(ctx, "", export.Options{})
	if err != nil {
		t.Fatalf("ExportDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.Location, "1_main_main-0.png")); err != nil {
		t.Fatal(err)
	}

	art, err := a.Image(ctx, "main-1")
	if err != nil || art.Name != "2_main_main-1.png" {
		t.Fatalf("Image = %q, %v", art.Name, err)
	}

	if err := a.DeleteHistory(ctx, entry.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.LoadHistory(ctx, entry.ID); !errors.Is(err, store.ErrHistoryNotFound) {
		t.Fatalf("err = %v", err)
	}
}
