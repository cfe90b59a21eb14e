package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"banana-mall/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func openDir(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Dir: dir, NewID: sequentialIDs()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func content(title string) model.GeneratedContent {
	return model.GeneratedContent{
		Product:  model.Product{ID: "p1", Category: "灯"},
		Platform: model.PlatformAmazon,
		Style:    model.StyleMinimal,
		Texts:    model.Texts{Title: title},
		Images:   []model.GeneratedImage{{ID: "main-0", URL: "data:image/png;base64,AA==", Type: model.KindMain}},
	}
}

func TestOpenEmptyUsesDefaults(t *testing.T) {
	s := openDir(t, t.TempDir())

	if got := s.Settings(); got != model.DefaultSettings() {
		t.Fatalf("settings = %+v", got)
	}
	if len(s.Histories()) != 0 {
		t.Fatal("expected empty history")
	}
	if _, ok := s.CurrentResult(); ok {
		t.Fatal("expected no current result")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openDir(t, dir)

	saved, err := s.SaveSettings(context.Background(), SettingsPatch{
		DefaultPlatform: ptr(model.PlatformTaobao),
		BrandName:       ptr("  Acme "),
		MainImageCount:  ptr(42),
	})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if saved.BrandName != "Acme" || saved.MainImageCount != model.MaxMainImages {
		t.Fatalf("saved = %+v", saved)
	}

	reopened := openDir(t, dir).Settings()
	if reopened.DefaultPlatform != model.PlatformTaobao || reopened.BrandName != "Acme" {
		t.Fatalf("reopened = %+v", reopened)
	}
	if reopened.DefaultStyle != model.StyleMinimal {
		t.Fatalf("untouched field lost its default: %+v", reopened)
	}

	data, err := os.ReadFile(filepath.Join(dir, PrimaryFileName))
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	if !strings.Contains(string(data), `"version": 1`) {
		t.Fatalf("primary lacks schema version: %s", data)
	}
}

func TestHistoryIsBoundedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	clock := time.UnixMilli(1_700_000_000_000)
	s, err := Open(context.Background(), Options{
		Dir:   dir,
		NewID: sequentialIDs(),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 21; i++ {
		if _, err := s.AppendHistory(context.Background(), content(fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("AppendHistory %d: %v", i, err)
		}
	}

	hist := s.Histories()
	if len(hist) != DefaultMaxHistory {
		t.Fatalf("len = %d", len(hist))
	}
	if hist[0].Texts.Title != "t20" || hist[len(hist)-1].Texts.Title != "t1" {
		t.Fatalf("order wrong: first %q last %q", hist[0].Texts.Title, hist[len(hist)-1].Texts.Title)
	}
	if hist[0].ID != "hist-0021" {
		t.Fatalf("id = %q", hist[0].ID)
	}
	if hist[0].CreatedAt != 1_700_000_021_000 {
		t.Fatalf("createdAt = %d", hist[0].CreatedAt)
	}

	if got := len(openDir(t, dir).Histories()); got != DefaultMaxHistory {
		t.Fatalf("reopened len = %d", got)
	}
}

func TestDeleteHistory(t *testing.T) {
	s := openDir(t, t.TempDir())
	entry, err := s.AppendHistory(context.Background(), content("a"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteHistory(context.Background(), "hist-missing"); !errors.Is(err, ErrHistoryNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := s.DeleteHistory(context.Background(), entry.ID); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	if _, ok := s.History(entry.ID); ok {
		t.Fatal("entry still present")
	}
}

func TestCurrentResultIsCopied(t *testing.T) {
	s := openDir(t, t.TempDir())
	c := content("a")
	if err := s.SaveCurrentResult(context.Background(), &c); err != nil {
		t.Fatal(err)
	}
	c.Images[0].URL = "mutated"

	got, ok := s.CurrentResult()
	if !ok || got.Images[0].URL == "mutated" {
		t.Fatalf("store shares memory with caller: %+v", got.Images)
	}

	if err := s.SaveCurrentResult(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.CurrentResult(); ok {
		t.Fatal("current result not cleared")
	}
}

func TestPrimaryOverridesMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := NewDirKV(dir)
	ctx := context.Background()
	_ = mirror.Set(ctx, KeySettings, `{"defaultPlatform":"jd","brandName":"Mirror"}`)
	_ = mirror.Set(ctx, KeyHistories, `[{"id":"hist-m","createdAt":1}]`)

	if err := NewFileBackend(dir).Save(ctx, Document{Settings: []byte(`{"brandName":"Primary"}`)}); err != nil {
		t.Fatal(err)
	}

	s := openDir(t, dir)
	if got := s.Settings().BrandName; got != "Primary" {
		t.Fatalf("brand = %q, want primary value", got)
	}
	if _, ok := s.History("hist-m"); !ok {
		t.Fatal("mirror-only histories were dropped")
	}
}

func TestPrimaryFailureFallsBackToMirror(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	primaryPath := filepath.Join(dir, PrimaryFileName)
	if err := os.WriteFile(primaryPath, []byte("{corrupt"), 0o600); err != nil {
		t.Fatal(err)
	}
	_ = NewDirKV(dir).Set(ctx, KeySettings, `{"brandName":"Mirror"}`)

	s := openDir(t, dir)
	if s.PrimaryAvailable() {
		t.Fatal("primary should be marked unavailable")
	}
	if got := s.Settings().BrandName; got != "Mirror" {
		t.Fatalf("brand = %q", got)
	}

	if _, err := s.SaveSettings(ctx, SettingsPatch{BrandName: ptr("Next")}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	data, _ := os.ReadFile(primaryPath)
	if string(data) != "{corrupt" {
		t.Fatal("primary was written during a mirror-only session")
	}
	raw, err := NewDirKV(dir).Get(ctx, KeySettings)
	if err != nil || !strings.Contains(raw, "Next") {
		t.Fatalf("mirror not updated: %q %v", raw, err)
	}
}

type failingBackend struct{}

func (failingBackend) Load(context.Context) (Document, error) { return Document{Version: SchemaVersion}, nil }
func (failingBackend) Save(context.Context, Document) error { return errors.New("disk full") }

func TestPrimaryWriteErrorIsReturned(t *testing.T) {
	s, err := Open(context.Background(), Options{Primary: failingBackend{}, Mirror: NewDirKV(t.TempDir())})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendHistory(context.Background(), content("a")); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Histories()) != 0 {
		t.Fatal("state changed despite failed write")
	}
}

func TestSeedAPIKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{Dir: dir, SeedAPIKey: "env-key"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Settings().APIKey; got != "env-key" {
		t.Fatalf("api key = %q", got)
	}
	if _, err := s.SaveSettings(context.Background(), SettingsPatch{Theme: ptr(model.ThemeDark)}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, PrimaryFileName))
	if strings.Contains(string(data), "env-key") {
		t.Fatal("seeded key was persisted")
	}
}

func TestRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	kv := NewRedisKV(rdb, "chat-1")
	s, err := Open(ctx, Options{Dir: t.TempDir(), Mirror: kv, NewID: sequentialIDs()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendHistory(ctx, content("a")); err != nil {
		t.Fatal(err)
	}

	raw, err := mr.Get("banana-mall:chat-1:" + KeyHistories)
	if err != nil {
		t.Fatalf("redis key missing: %v", err)
	}
	if !strings.Contains(raw, "hist-0001") {
		t.Fatalf("raw = %s", raw)
	}

	if _, err := kv.Get(ctx, KeyCurrent); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v", err)
	}
}
