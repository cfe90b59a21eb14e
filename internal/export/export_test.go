package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"banana-mall/internal/detailpage"
	"banana-mall/internal/imageconv"
	"banana-mall/internal/model"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func placeholder(t *testing.T, w, h int, seed string) []byte {
	t.Helper()
	data, err := imageconv.Placeholder(w, h, seed)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func sampleContent(t *testing.T, remoteURL string) model.GeneratedContent {
	t.Helper()
	product := model.Product{ID: "p1", Category: "台灯", Tags: []string{"功率：5W", "材质：铝"}}
	return model.GeneratedContent{
		Product:  product,
		Platform: model.PlatformAmazon,
		Style:    model.StyleMinimal,
		Language: model.LanguageZH,
		Texts: model.Texts{
			Title:          "护眼台灯",
			Description:    "柔和不闪烁",
			Specifications: []string{"功率：5W", "色温：4000K"},
		},
		Images: []model.GeneratedImage{
			{ID: "main-0", URL: imageconv.EncodeDataURL("image/png", placeholder(t, 60, 60, "a")), Type: model.KindMain},
			{ID: "detail-0", URL: remoteURL, Type: model.KindDetail},
		},
		DetailPage: detailpage.Mock(product, model.StyleMinimal, model.LanguageZH, ""),
	}
}

func imageServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newExporter() *Exporter {
	return New(ExporterOptions{Now: func() time.Time { return fixedNow }})
}

func TestStamp(t *testing.T) {
	if got := Stamp(fixedNow); got != "2025-03-04T05-06-07-890Z" {
		t.Fatalf("Stamp = %q", got)
	}
}

func TestBuildOrderAndNames(t *testing.T) {
	srv := imageServer(t, placeholder(t, 30, 40, "b"))
	artifacts, err := newExporter().Build(context.Background(), sampleContent(t, srv.URL+"/d.png"), Options{HTML: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var names []string
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	want := []string{"content.json", "detail.md", "detail.html", "1_main_main-0.png", "2_detail_detail-0.png"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for _, a := range artifacts[3:] {
		if !bytes.HasPrefix(a.Data, []byte("\x89PNG")) {
			t.Fatalf("%s is not a PNG", a.Name)
		}
	}
	if !strings.Contains(string(artifacts[2].Data), "<h1>护眼台灯</h1>") {
		t.Fatalf("html = %s", artifacts[2].Data)
	}
}

func TestContentJSONRoundTrip(t *testing.T) {
	srv := imageServer(t, placeholder(t, 10, 10, "c"))
	content := sampleContent(t, srv.URL)
	artifacts, err := newExporter().Build(context.Background(), content, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(artifacts[0].Data), "{\n  \"product\"") {
		t.Fatalf("content.json not indented: %.40s", artifacts[0].Data)
	}
	if strings.Contains(string(artifacts[0].Data), "base64") {
		t.Fatal("image payload leaked into content.json")
	}

	var doc Document
	if err := json.Unmarshal(artifacts[0].Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Product.Category != content.Product.Category || !reflect.DeepEqual(doc.Product.Tags, content.Product.Tags) {
		t.Fatalf("product = %+v", doc.Product)
	}
	if doc.Platform != content.Platform || doc.Style != content.Style {
		t.Fatalf("platform/style = %s/%s", doc.Platform, doc.Style)
	}
	if !reflect.DeepEqual(doc.Texts, content.Texts) || !reflect.DeepEqual(doc.DetailPage, content.DetailPage) {
		t.Fatal("texts or detail page changed in round trip")
	}
}

func TestMarkdown(t *testing.T) {
	content := sampleContent(t, "")
	content.DetailPage.SocialProof.Reviews = []model.Review{{Text: "好用", Rating: 4}}
	md := Markdown(content)

	for _, want := range []string{"# 护眼台灯\n", "## 商品信息", "**价格**: ", "## 用户评价", "**⭐⭐⭐⭐** 好用", "## 商品规格\n\n- 功率：5W\n- 色温：4000K\n"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}

	content.Language = model.LanguageEN
	if md := Markdown(content); !strings.Contains(md, "## Specifications") {
		t.Fatalf("english headings missing:\n%s", md)
	}
}

func TestDirSink(t *testing.T) {
	srv := imageServer(t, placeholder(t, 10, 10, "d"))
	dir := t.TempDir()

	res, err := newExporter().Export(context.Background(), sampleContent(t, srv.URL), DirSink{Dir: dir}, Options{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	wantFolder := filepath.Join(dir, "banana-mall-export-2025-03-04T05-06-07-890Z")
	if res.Location != wantFolder || len(res.Files) != 4 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(wantFolder, "2_detail_detail-0.png")); err != nil {
		t.Fatal(err)
	}

	if _, err := newExporter().Export(context.Background(), sampleContent(t, srv.URL), DirSink{Dir: " "}, Options{}); !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("err = %v, want ErrNoDirectory", err)
	}
}

func TestDownloadSinkMatchesDirSink(t *testing.T) {
	srv := imageServer(t, placeholder(t, 10, 10, "e"))
	content := sampleContent(t, srv.URL)
	dir := t.TempDir()

	if _, err := newExporter().Export(context.Background(), content, DirSink{Dir: dir}, Options{}); err != nil {
		t.Fatal(err)
	}

	got := map[string][]byte{}
	var order []string
	sink := DownloadSink{Send: func(_ context.Context, name string, a Artifact) error {
		order = append(order, name)
		got[name] = a.Data
		return nil
	}}
	if _, err := newExporter().Export(context.Background(), content, sink, Options{}); err != nil {
		t.Fatal(err)
	}

	prefix := "2025-03-04T05-06-07-890Z_"
	if order[0] != prefix+"content.json" || order[1] != prefix+"detail.md" || order[3] != prefix+"2_detail_detail-0.png" {
		t.Fatalf("order = %v", order)
	}
	folder := filepath.Join(dir, FolderPrefix+"2025-03-04T05-06-07-890Z")
	for _, name := range []string{"content.json", "detail.md"} {
		onDisk, err := os.ReadFile(filepath.Join(folder, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(onDisk, got[prefix+name]) {
			t.Fatalf("%s differs between delivery paths", name)
		}
	}
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)+" "+aws.ToString(in.ContentType))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	srv := imageServer(t, placeholder(t, 10, 10, "f"))
	putter := &fakePutter{}
	sink := S3Sink{Client: putter, Bucket: "exports", Prefix: "/shop/"}

	res, err := newExporter().Export(context.Background(), sampleContent(t, srv.URL), sink, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Location != "s3://exports/shop/banana-mall-export-2025-03-04T05-06-07-890Z" {
		t.Fatalf("location = %q", res.Location)
	}
	if putter.keys[0] != "exports/shop/banana-mall-export-2025-03-04T05-06-07-890Z/content.json application/json" {
		t.Fatalf("first key = %q", putter.keys[0])
	}

	putter.fail = true
	if _, err := newExporter().Export(context.Background(), sampleContent(t, srv.URL), sink, Options{}); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestUnresolvableImageFailsBuild(t *testing.T) {
	content := sampleContent(t, "ftp://example.invalid/x.png")
	if _, err := newExporter().Build(context.Background(), content, Options{}); !errors.Is(err, imageconv.ErrUnsupportedReference) {
		t.Fatalf("err = %v", err)
	}
}
