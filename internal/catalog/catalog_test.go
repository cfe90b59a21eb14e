package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"banana-mall/internal/model"
)

func TestMainImagePromptBrandAlternates(t *testing.T) {
	c := Default()

	p0 := c.MainImagePrompt(0, model.PlatformTaobao, model.LanguageZH, "Acme", "")
	p1 := c.MainImagePrompt(1, model.PlatformTaobao, model.LanguageZH, "Acme", "")
	if !strings.Contains(p0, "Acme") {
		t.Fatalf("prompt 0 lacks brand: %q", p0)
	}
	if strings.Contains(p1, "Acme") {
		t.Fatalf("prompt 1 carries brand: %q", p1)
	}

	for i := 0; i < 4; i++ {
		if p := c.MainImagePrompt(i, model.PlatformAmazon, model.LanguageEN, "Acme", ""); strings.Contains(p, "Acme") {
			t.Fatalf("listing platform prompt %d carries brand: %q", i, p)
		}
	}
}

func TestMainImagePromptWraps(t *testing.T) {
	c := Default()
	n := len(c.MainPrompts.Marketing.ZH)
	if a, b := c.MainImagePrompt(1, model.PlatformJD, model.LanguageZH, "", ""), c.MainImagePrompt(1+2*n, model.PlatformJD, model.LanguageZH, "", ""); a != b {
		t.Fatalf("variant did not wrap: %q vs %q", a, b)
	}
}

func TestDetailImagePrompt(t *testing.T) {
	c := Default()
	first := c.DetailImagePrompt(0, model.LanguageEN, "Acme", "waterproof")
	second := c.DetailImagePrompt(1, model.LanguageEN, "Acme", "waterproof")

	if !strings.Contains(first, "Acme") || strings.Contains(second, "Acme") {
		t.Fatalf("brand placement wrong: %q / %q", first, second)
	}
	if !strings.Contains(first, "waterproof") || !strings.Contains(second, "waterproof") {
		t.Fatal("extra info missing")
	}
	if DetectAspectRatio(first) != "3:4" {
		t.Fatalf("detail prompt lacks 3:4 marker: %q", first)
	}
}

func TestDetectAspectRatio(t *testing.T) {
	cases := map[string]string{
		"竖版构图3:4，白底":     "3:4",
		"wide 16:9 banner": "16:9",
		"材质：棉":            "",
		"no ratio":         "",
		"bad 0:4":          "",
	}
	for prompt, want := range cases {
		if got := DetectAspectRatio(prompt); got != want {
			t.Errorf("DetectAspectRatio(%q) = %q, want %q", prompt, got, want)
		}
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	data := strings.Replace(string(embeddedPrompts), "version: 1", "version: 2", 1)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected version error")
	}

	c, err := Load("")
	if err != nil || c.Version != SchemaVersion {
		t.Fatalf("Load(\"\") = %v, %v", c, err)
	}
}
