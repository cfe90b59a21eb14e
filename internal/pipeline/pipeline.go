package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"banana-mall/internal/catalog"
	"banana-mall/internal/detailpage"
	"banana-mall/internal/generative"
	"banana-mall/internal/model"
)

type State string

const (
	StateInitializing            State = "initializing"
	StateGeneratingText          State = "generating_text"
	StateGeneratingMainImages    State = "generating_main_images"
	StateGeneratingDetailContent State = "generating_detail_content"
	StateGeneratingDetailImages  State = "generating_detail_images"
	StateComplete                State = "complete"
	StateCancelled               State = "cancelled"
	StateFailed                  State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

var (
	ErrCancelled = errors.New("generation cancelled")
	ErrNoProduct = errors.New("no product image to generate from")
)

// Persister receives the finished result.
type Persister interface {
	SaveCurrentResult(ctx context.Context, content *model.GeneratedContent) error
	AppendHistory(ctx context.Context, content model.GeneratedContent) (model.GenerationHistory, error)
	DeleteHistory(ctx context.Context, id string) error
}

type DetailGenerator interface {
	Generate(ctx context.Context, req detailpage.Request) model.DetailPageContent
}

// Backends are the generation services bound to one settings snapshot.
type Backends struct {
	Client generative.Client
	Detail DetailGenerator
}

type Options struct {
	Store Persister
	// Backends resolves the services for a request's settings.
	Backends func(settings model.AppSettings) Backends
	Catalog  *catalog.Catalog
	Logger   *slog.Logger
}

type Request struct {
	ID       string
	Product  model.Product
	Settings model.AppSettings
}

type Progress struct {
	RequestID string
	State     State
	Percent   int
	// Image and Total are set while images are being produced.
	Image int
	Total int
}

type ProgressFunc func(Progress)

// Pipeline runs generation requests. Each request id executes at most once.
type Pipeline struct {
	store    Persister
	backends func(model.AppSettings) Backends
	catalog  *catalog.Catalog
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

func New(opts Options) *Pipeline {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		store:    opts.Store,
		backends: opts.Backends,
		catalog:  cat,
		logger:   logger,
		runs:     make(map[string]*Run),
	}
}

// Start launches the request in the background. Starting an id that was
// already started returns the existing run without executing again. An
// empty id gets a fresh one.
func (p *Pipeline) Start(ctx context.Context, req Request, progress ProgressFunc) *Run {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if run, ok := p.runs[req.ID]; ok {
		return run
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:     req.ID,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateInitializing,
	}
	p.runs[req.ID] = run

	go p.execute(runCtx, run, req, progress)
	return run
}

// Lookup returns the run started for id, if any.
func (p *Pipeline) Lookup(id string) (*Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[id]
	return run, ok
}

// Forget drops a finished run so its result can be collected. Unfinished
// runs are kept.
func (p *Pipeline) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run, ok := p.runs[id]; ok && run.finished() {
		delete(p.runs, id)
	}
}

func (p *Pipeline) execute(ctx context.Context, run *Run, req Request, progress ProgressFunc) {
	defer run.cancel()
	defer close(run.done)

	logger := p.logger.With("request_id", req.ID)
	report := func(state State, percent, image, total int) {
		if !run.advance(state, percent) {
			return
		}
		if progress != nil {
			progress(Progress{RequestID: req.ID, State: state, Percent: run.Progress(), Image: image, Total: total})
		}
	}

	report(StateInitializing, 0, 0, 0)

	content, err := p.generate(ctx, run, req, report)
	switch {
	case err == nil:
		run.finish(StateComplete, &content, nil)
		logger.Info("generation complete", "images", len(content.Images))
	case errors.Is(err, ErrCancelled) || run.cancelled.Load():
		run.finish(StateCancelled, nil, ErrCancelled)
		logger.Info("generation cancelled")
	default:
		run.finish(StateFailed, nil, err)
		logger.Error("generation failed", "err", err)
	}

	final := run.State()
	if progress != nil {
		progress(Progress{RequestID: req.ID, State: final, Percent: run.Progress()})
	}
}

type reportFunc func(state State, percent, image, total int)

func (p *Pipeline) generate(ctx context.Context, run *Run, req Request, report reportFunc) (model.GeneratedContent, error) {
	if strings.TrimSpace(req.Product.ImageBase64) == "" {
		return model.GeneratedContent{}, ErrNoProduct
	}
	source, err := req.Product.ImageBytes()
	if err != nil {
		return model.GeneratedContent{}, err
	}
	if p.backends == nil {
		return model.GeneratedContent{}, errors.New("pipeline: no backends configured")
	}

	s := req.Settings
	if s.DefaultPlatform == "" {
		s.DefaultPlatform = model.PlatformAmazon
	}
	if s.DefaultStyle == "" {
		s.DefaultStyle = model.StyleMinimal
	}
	lang := s.SelectedLanguage
	if lang == "" {
		lang = model.LanguageZH
	}
	genModel := s.SelectedModel
	if genModel == "" {
		genModel = model.ModelNanoBanana
	}
	brand := strings.TrimSpace(s.BrandName)
	extra := strings.TrimSpace(s.ExtraInfo)
	mainCount, detailCount := model.ClampCounts(s.MainImageCount, s.DetailImageCount)
	backends := p.backends(s)

	if err := run.checkpoint(ctx); err != nil {
		return model.GeneratedContent{}, err
	}
	report(StateGeneratingText, 20, 0, 0)

	texts, err := backends.Client.GenerateText(ctx, generative.TextRequest{
		Product:   req.Product,
		Platform:  s.DefaultPlatform,
		Style:     s.DefaultStyle,
		Language:  lang,
		BrandName: brand,
		ExtraInfo: extra,
	})
	if err != nil {
		return model.GeneratedContent{}, fmt.Errorf("generate text: %w", err)
	}

	if err := run.checkpoint(ctx); err != nil {
		return model.GeneratedContent{}, err
	}
	report(StateGeneratingMainImages, 40, 0, mainCount)

	images := make([]model.GeneratedImage, 0, mainCount+detailCount)
	for i := 0; i < mainCount; i++ {
		if err := run.checkpoint(ctx); err != nil {
			return model.GeneratedContent{}, err
		}
		prompt := p.catalog.MainImagePrompt(i, s.DefaultPlatform, lang, brand, extra)
		url, err := backends.Client.EditImage(ctx, generative.EditRequest{
			Image:    source,
			MimeType: req.Product.ImageMimeType,
			Prompt:   prompt,
			Kind:     model.KindMain,
		})
		if err != nil {
			return model.GeneratedContent{}, fmt.Errorf("main image %d: %w", i, err)
		}
		images = append(images, model.GeneratedImage{ID: fmt.Sprintf("main-%d", i), URL: url, Prompt: prompt, Type: model.KindMain})
		report(StateGeneratingMainImages, 40+(i+1)*40/mainCount, i+1, mainCount)
	}

	if err := run.checkpoint(ctx); err != nil {
		return model.GeneratedContent{}, err
	}
	report(StateGeneratingDetailContent, 80, 0, 0)

	detail := backends.Detail.Generate(ctx, detailpage.Request{
		Product:   req.Product,
		Platform:  s.DefaultPlatform,
		Style:     s.DefaultStyle,
		Language:  lang,
		Model:     genModel,
		BrandName: brand,
		ExtraInfo: extra,
	})

	if err := run.checkpoint(ctx); err != nil {
		return model.GeneratedContent{}, err
	}
	report(StateGeneratingDetailImages, 85, 0, detailCount)

	for i := 0; i < detailCount; i++ {
		if err := run.checkpoint(ctx); err != nil {
			return model.GeneratedContent{}, err
		}
		prompt := p.catalog.DetailImagePrompt(i, lang, brand, extra)
		url, err := backends.Client.EditImage(ctx, generative.EditRequest{
			Image:       source,
			MimeType:    req.Product.ImageMimeType,
			Prompt:      prompt,
			AspectRatio: "3:4",
			Kind:        model.KindDetail,
		})
		if err != nil {
			return model.GeneratedContent{}, fmt.Errorf("detail image %d: %w", i, err)
		}
		images = append(images, model.GeneratedImage{ID: fmt.Sprintf("detail-%d", i), URL: url, Prompt: prompt, Type: model.KindDetail})
		report(StateGeneratingDetailImages, 85+(i+1)*10/detailCount, i+1, detailCount)
	}

	content := model.GeneratedContent{
		Product:    req.Product,
		Platform:   s.DefaultPlatform,
		Style:      s.DefaultStyle,
		Model:      genModel,
		Language:   lang,
		BrandName:  brand,
		Images:     images,
		Texts:      texts,
		DetailPage: detail,
	}

	if err := run.checkpoint(ctx); err != nil {
		return model.GeneratedContent{}, err
	}
	if p.store != nil {
		if err := p.persist(ctx, &content); err != nil {
			return model.GeneratedContent{}, err
		}
	}
	return content, nil
}

// persist appends the history entry, then replaces the current result. The
// entry is removed again when the current result cannot be saved.
func (p *Pipeline) persist(ctx context.Context, content *model.GeneratedContent) error {
	entry, err := p.store.AppendHistory(ctx, *content)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := p.store.SaveCurrentResult(ctx, content); err != nil {
		if rbErr := p.store.DeleteHistory(context.WithoutCancel(ctx), entry.ID); rbErr != nil {
			p.logger.Error("history rollback failed", "history_id", entry.ID, "err", rbErr)
		}
		return fmt.Errorf("save current result: %w", err)
	}
	return nil
}

// Run is one execution of a request.
type Run struct {
	id        string
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	state   State
	percent int
	result  *model.GeneratedContent
	err     error
}

func (r *Run) ID() string { return r.id }

// Cancel stops the run at its next checkpoint and abandons the call in flight.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (model.GeneratedContent, error) {
	select {
	case <-ctx.Done():
		return model.GeneratedContent{}, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.GeneratedContent{}, r.err
	}
	return r.result.Clone(), nil
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

// checkpoint reports ErrCancelled once Cancel was called or the run's
// context has ended.
func (r *Run) checkpoint(ctx context.Context) error {
	if r.cancelled.Load() || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// advance moves to state and raises the percentage; it never lowers it.
func (r *Run) advance(state State, percent int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.state = state
	if percent > r.percent {
		r.percent = percent
	}
	return true
}

func (r *Run) finish(state State, result *model.GeneratedContent, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.result = result
	r.err = err
	if state == StateComplete {
		r.percent = 100
	}
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
