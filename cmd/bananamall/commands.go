package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"banana-mall/internal/app"
	"banana-mall/internal/export"
	"banana-mall/internal/model"
	"banana-mall/internal/pipeline"
	"banana-mall/internal/store"
)

// generateFlags maps generate flags onto setting keys.
var generateFlags = []struct {
	name, key, help string
}{
	{"platform", "platform", "amazon | taobao | jd"},
	{"style", "style", "minimal | cyber | chinese"},
	{"model", "model", "nanobanana | nanabanana"},
	{"lang", "language", "zh | en"},
	{"main", "main", "main image count (1-10)"},
	{"detail", "detail", "detail image count (1-5)"},
	{"brand", "brand", "brand name"},
	{"extra", "extra", "extra product information"},
}

func (e *env) generate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	imagePath := fs.String("image", "", "product photo (jpg, png, webp)")
	exportDir := fs.String("export", "", "export into this directory when done")
	html := fs.Bool("html", false, "include detail.html in the export")
	values := make(map[string]*string, len(generateFlags))
	for _, f := range generateFlags {
		values[f.name] = fs.String(f.name, "", f.help)
	}
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*imagePath) == "" {
		return usageError("-image is required")
	}

	var patch store.SettingsPatch
	var err error
	fs.Visit(func(f *flag.Flag) {
		for _, gf := range generateFlags {
			if gf.name != f.Name || err != nil {
				continue
			}
			var p store.SettingsPatch
			if p, err = app.ParseSetting(gf.key, *values[gf.name]); err == nil {
				patch = mergePatch(patch, p)
			}
		}
	})
	if err != nil {
		return usageError(err.Error())
	}
	if _, err := e.ws.Configure(ctx, patch); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	fmt.Println("Analyzing product…")
	product, err := e.ws.Upload(ctx, data, "")
	if err != nil {
		return err
	}
	printProduct(os.Stdout, product)

	var last pipeline.State
	run, err := e.ws.Generate(ctx, "", func(p pipeline.Progress) {
		if p.State == last && p.Image == 0 {
			return
		}
		last = p.State
		line := fmt.Sprintf("[%3d%%] %s", p.Percent, p.State)
		if p.Total > 0 && p.Image > 0 {
			line += fmt.Sprintf(" %d/%d", p.Image, p.Total)
		}
		fmt.Fprintln(os.Stderr, line)
	})
	if err != nil {
		return err
	}
	content, err := run.Wait(context.Background())
	e.ws.Forget(run.ID())
	if err != nil {
		return err
	}

	printContent(os.Stdout, content)
	if *exportDir != "" {
		return e.exportTo(ctx, export.DirSink{Dir: *exportDir}, *html, false)
	}
	return nil
}

// mergePatch copies the fields set in src over dst.
func mergePatch(dst, src store.SettingsPatch) store.SettingsPatch {
	if src.DefaultPlatform != nil {
		dst.DefaultPlatform = src.DefaultPlatform
	}
	if src.DefaultStyle != nil {
		dst.DefaultStyle = src.DefaultStyle
	}
	if src.SelectedModel != nil {
		dst.SelectedModel = src.SelectedModel
	}
	if src.SelectedLanguage != nil {
		dst.SelectedLanguage = src.SelectedLanguage
	}
	if src.MainImageCount != nil {
		dst.MainImageCount = src.MainImageCount
	}
	if src.DetailImageCount != nil {
		dst.DetailImageCount = src.DetailImageCount
	}
	if src.BrandName != nil {
		dst.BrandName = src.BrandName
	}
	if src.ExtraInfo != nil {
		dst.ExtraInfo = src.ExtraInfo
	}
	return dst
}

func (e *env) history(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("history needs list, load or delete")
	}
	switch args[0] {
	case "list":
		entries := e.ws.Histories()
		if len(entries) == 0 {
			fmt.Println("No history.")
			return nil
		}
		for _, h := range entries {
			created := time.UnixMilli(h.CreatedAt).Format("2006-01-02 15:04")
			fmt.Printf("%s  %s  %-6s %-7s %2d images  %s\n", h.ID, created, h.Platform, h.Style, len(h.Images), h.Texts.Title)
		}
		return nil
	case "load":
		if len(args) != 2 {
			return usageError("history load <id>")
		}
		content, err := e.ws.LoadHistory(ctx, args[1])
		if err != nil {
			return err
		}
		printContent(os.Stdout, content)
		return nil
	case "delete":
		if len(args) != 2 {
			return usageError("history delete <id>")
		}
		if err := e.ws.DeleteHistory(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Deleted", args[1])
		return nil
	}
	return usageError("unknown history command " + args[0])
}

func (e *env) settings(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "show" {
		printSettings(os.Stdout, e.ws.Settings())
		return nil
	}
	if args[0] != "set" || len(args) < 2 {
		return usageError("settings show | settings set <key> <value>")
	}
	patch, err := app.ParseSetting(args[1], strings.Join(args[2:], " "))
	if err != nil {
		return usageError(err.Error())
	}
	s, err := e.ws.Configure(ctx, patch)
	if err != nil {
		return err
	}
	printSettings(os.Stdout, s)
	return nil
}

func (e *env) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description")
	var specs specFlag
	fs.Var(&specs, "spec", `replace a specification: "<n> <text>" (repeatable)`)
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	var edit app.TextEdit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			edit.Title = title
		case "desc":
			edit.Description = desc
		}
	})
	if len(specs) > 0 {
		edit.Specs = specs
	}
	if edit.Title == nil && edit.Description == nil && edit.Specs == nil {
		return usageError("edit needs -title, -desc or -spec")
	}

	texts, err := e.ws.EditTexts(ctx, edit)
	if err != nil {
		return err
	}
	printTexts(os.Stdout, texts)
	return nil
}

// specFlag collects "-spec '<n> <text>'" values keyed by zero-based index.
type specFlag map[int]string

func (s *specFlag) String() string { return "" }

func (s *specFlag) Set(v string) error {
	head, text, _ := strings.Cut(strings.TrimSpace(v), " ")
	n, err := strconv.Atoi(head)
	if err != nil || n < 1 || strings.TrimSpace(text) == "" {
		return fmt.Errorf("want \"<n> <text>\", got %q", v)
	}
	if *s == nil {
		*s = make(specFlag)
	}
	(*s)[n-1] = strings.TrimSpace(text)
	return nil
}

func (e *env) redraw(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("redraw <imageId> <prompt>")
	}
	img, err := e.ws.RegenerateImage(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("Redrew %s (%s)\n", img.ID, img.Type)
	return nil
}

func (e *env) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dir := fs.String("dir", "", "target directory (default: the exportpath setting)")
	html := fs.Bool("html", false, "include detail.html")
	toS3 := fs.Bool("s3", false, "also upload to EXPORT_S3_BUCKET")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	target := *dir
	if target == "" {
		target = e.ws.Settings().ExportPath
	}
	return e.exportTo(ctx, export.DirSink{Dir: target}, *html, *toS3)
}

func (e *env) exportTo(ctx context.Context, dir export.DirSink, html, toS3 bool) error {
	var sink export.Sink = dir
	if toS3 {
		if e.cfg.ExportS3Bucket == "" {
			return usageError("-s3 needs EXPORT_S3_BUCKET")
		}
		s3Sink, err := export.NewS3Sink(ctx, e.cfg.AWSRegion, e.cfg.ExportS3Bucket, e.cfg.ExportS3Prefix)
		if err != nil {
			return err
		}
		sink = export.MultiSink{dir, s3Sink}
	}
	res, err := e.ws.Export(ctx, sink, export.Options{HTML: html})
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d files to %s\n", len(res.Files), res.Location)
	return nil
}

func printProduct(w io.Writer, p model.Product) {
	fmt.Fprintf(w, "Category: %s\n", p.Category)
	if p.Analysis != nil && p.Analysis.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", p.Analysis.Description)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(p.Tags, ", "))
	}
}

func printTexts(w io.Writer, t model.Texts) {
	fmt.Fprintf(w, "\n%s\n\n%s\n", t.Title, t.Description)
	for i, spec := range t.Specifications {
		fmt.Fprintf(w, "  %d. %s\n", i+1, spec)
	}
}

func printContent(w io.Writer, c model.GeneratedContent) {
	printTexts(w, c.Texts)
	fmt.Fprintf(w, "\nPrice: %s", c.DetailPage.BuyBox.Price)
	if c.DetailPage.BuyBox.OriginalPrice != "" {
		fmt.Fprintf(w, " (was %s)", c.DetailPage.BuyBox.OriginalPrice)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "\nImages:")
	for _, img := range c.Images {
		fmt.Fprintf(w, "  %-10s %s\n", img.ID, img.Type)
	}
}

func printSettings(w io.Writer, s model.AppSettings) {
	rows := []struct{ k, v string }{
		{"apikey", app.MaskKey(s.APIKey)},
		{"baseurl", s.BaseURL},
		{"platform", string(s.DefaultPlatform)},
		{"style", string(s.DefaultStyle)},
		{"model", string(s.SelectedModel)},
		{"language", string(s.SelectedLanguage)},
		{"theme", string(s.Theme)},
		{"main", strconv.Itoa(s.MainImageCount)},
		{"detail", strconv.Itoa(s.DetailImageCount)},
		{"brand", s.BrandName},
		{"extra", s.ExtraInfo},
		{"exportpath", s.ExportPath},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-10s %s\n", r.k, r.v)
	}
}
