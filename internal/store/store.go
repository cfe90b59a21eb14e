package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"banana-mall/internal/model"
)

const DefaultMaxHistory = 20

var ErrHistoryNotFound = errors.New("history entry not found")

type Options struct {
	// Dir holds the primary file and the default directory mirror.
	Dir     string
	Primary Backend
	Mirror  KV
	// MaxHistory bounds the history list; zero means 20.
	MaxHistory int
	// SeedAPIKey fills an empty stored credential without persisting it.
	SeedAPIKey string
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// SettingsPatch carries the settings fields to change; nil fields are kept.
type SettingsPatch struct {
	APIKey           *string
	BaseURL          *string
	DefaultPlatform  *model.Platform
	DefaultStyle     *model.Style
	ExportPath       *string
	SelectedModel    *model.Model
	SelectedLanguage *model.Language
	Theme            *model.Theme
	MainImageCount   *int
	DetailImageCount *int
	BrandName        *string
	ExtraInfo        *string
}

// Store owns settings, history and the current result of one workspace.
// Writes go to the primary backend first and then to the mirror.
type Store struct {
	mu sync.RWMutex

	primary   Backend
	primaryOK bool
	mirror    KV

	settings  model.AppSettings
	histories []model.GenerationHistory
	current   *model.GeneratedContent

	maxHistory int
	seedAPIKey string
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// Open hydrates the store: mirror values first, then primary values
// override where present. When the primary cannot be read the mirror
// stays authoritative and primary writes are skipped for the session.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Primary == nil && opts.Dir == "" {
		return nil, errors.New("store: Dir or Primary is required")
	}

	s := &Store{
		primary:    opts.Primary,
		primaryOK:  true,
		mirror:     opts.Mirror,
		settings:   model.DefaultSettings(),
		maxHistory: opts.MaxHistory,
		seedAPIKey: strings.TrimSpace(opts.SeedAPIKey),
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if s.primary == nil {
		s.primary = NewFileBackend(opts.Dir)
	}
	if s.mirror == nil && opts.Dir != "" {
		s.mirror = NewDirKV(opts.Dir)
	}
	if s.maxHistory <= 0 {
		s.maxHistory = DefaultMaxHistory
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}

	s.loadMirror(ctx)

	doc, err := s.primary.Load(ctx)
	if err != nil {
		s.primaryOK = false
		s.logger.Warn("primary store unavailable, using mirror", "op", "store_load", "err", err)
		return s, nil
	}
	if err := s.apply(doc); err != nil {
		s.primaryOK = false
		s.logger.Warn("primary store unreadable, using mirror", "op", "store_load", "err", err)
	}
	return s, nil
}

func (s *Store) loadMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	if raw, ok := s.mirrorGet(ctx, KeySettings); ok {
		settings := model.DefaultSettings()
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			s.logger.Warn("mirror settings unreadable", "op", "store_load", "err", err)
		} else {
			s.settings = settings
		}
	}
	if raw, ok := s.mirrorGet(ctx, KeyHistories); ok {
		var histories []model.GenerationHistory
		if err := json.Unmarshal([]byte(raw), &histories); err != nil {
			s.logger.Warn("mirror histories unreadable", "op", "store_load", "err", err)
		} else {
			s.histories = s.bound(histories)
		}
	}
	if raw, ok := s.mirrorGet(ctx, KeyCurrent); ok {
		var current model.GeneratedContent
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			s.logger.Warn("mirror current result unreadable", "op", "store_load", "err", err)
		} else {
			s.current = &current
		}
	}
}

func (s *Store) mirrorGet(ctx context.Context, key string) (string, bool) {
	raw, err := s.mirror.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("mirror read failed", "op", "store_load", "key", key, "err", err)
		return "", false
	}
	return raw, strings.TrimSpace(raw) != ""
}

func (s *Store) apply(doc Document) error {
	if len(doc.Settings) > 0 {
		settings := model.DefaultSettings()
		if err := json.Unmarshal(doc.Settings, &settings); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
		s.settings = settings
	}
	if doc.Histories != nil {
		s.histories = s.bound(*doc.Histories)
	}
	if doc.Current != nil {
		current := *doc.Current
		s.current = &current
	}
	return nil
}

func (s *Store) bound(histories []model.GenerationHistory) []model.GenerationHistory {
	if len(histories) > s.maxHistory {
		histories = histories[:s.maxHistory]
	}
	return histories
}

// PrimaryAvailable reports whether writes reach the primary backend.
func (s *Store) PrimaryAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primaryOK
}

func (s *Store) Settings() model.AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	if strings.TrimSpace(settings.APIKey) == "" {
		settings.APIKey = s.seedAPIKey
	}
	return settings
}

func (s *Store) SaveSettings(ctx context.Context, patch SettingsPatch) (model.AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	patch.apply(&next)
	next.MainImageCount, next.DetailImageCount = model.ClampCounts(next.MainImageCount, next.DetailImageCount)

	if err := s.persistLocked(ctx, state{settings: next, histories: s.histories, current: s.current}, KeySettings); err != nil {
		return s.settings, err
	}
	s.settings = next

	out := next
	if strings.TrimSpace(out.APIKey) == "" {
		out.APIKey = s.seedAPIKey
	}
	return out, nil
}

func (p SettingsPatch) apply(dst *model.AppSettings) {
	setString(&dst.APIKey, p.APIKey)
	setString(&dst.BaseURL, p.BaseURL)
	setString(&dst.ExportPath, p.ExportPath)
	setString(&dst.BrandName, p.BrandName)
	setString(&dst.ExtraInfo, p.ExtraInfo)
	if p.DefaultPlatform != nil {
		dst.DefaultPlatform = *p.DefaultPlatform
	}
	if p.DefaultStyle != nil {
		dst.DefaultStyle = *p.DefaultStyle
	}
	if p.SelectedModel != nil {
		dst.SelectedModel = *p.SelectedModel
	}
	if p.SelectedLanguage != nil {
		dst.SelectedLanguage = *p.SelectedLanguage
	}
	if p.Theme != nil {
		dst.Theme = *p.Theme
	}
	if p.MainImageCount != nil {
		dst.MainImageCount = *p.MainImageCount
	}
	if p.DetailImageCount != nil {
		dst.DetailImageCount = *p.DetailImageCount
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// AppendHistory records content as the newest history entry and drops the
// oldest entries beyond the bound.
func (s *Store) AppendHistory(ctx context.Context, content model.GeneratedContent) (model.GenerationHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.GenerationHistory{
		GeneratedContent: content.Clone(),
		ID:               "hist-" + s.newID(),
		CreatedAt:        s.now().UnixMilli(),
	}

	next := make([]model.GenerationHistory, 0, len(s.histories)+1)
	next = append(next, entry)
	next = append(next, s.histories...)
	next = s.bound(next)

	if err := s.persistLocked(ctx, state{settings: s.settings, histories: next, current: s.current}, KeyHistories); err != nil {
		return model.GenerationHistory{}, err
	}
	s.histories = next
	return entry, nil
}

func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, h := range s.histories {
		if h.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}

	next := make([]model.GenerationHistory, 0, len(s.histories)-1)
	next = append(next, s.histories[:idx]...)
	next = append(next, s.histories[idx+1:]...)

	if err := s.persistLocked(ctx, state{settings: s.settings, histories: next, current: s.current}, KeyHistories); err != nil {
		return err
	}
	s.histories = next
	return nil
}

// Histories returns the history list, newest first.
func (s *Store) Histories() []model.GenerationHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.GenerationHistory, len(s.histories))
	copy(out, s.histories)
	return out
}

func (s *Store) History(id string) (model.GenerationHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.histories {
		if h.ID == id {
			h.GeneratedContent = h.GeneratedContent.Clone()
			return h, true
		}
	}
	return model.GenerationHistory{}, false
}

// SaveCurrentResult replaces the current result; nil clears it.
func (s *Store) SaveCurrentResult(ctx context.Context, content *model.GeneratedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *model.GeneratedContent
	if content != nil {
		c := content.Clone()
		next = &c
	}

	if err := s.persistLocked(ctx, state{settings: s.settings, histories: s.histories, current: next}, KeyCurrent); err != nil {
		return err
	}
	s.current = next
	return nil
}

func (s *Store) CurrentResult() (model.GeneratedContent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return model.GeneratedContent{}, false
	}
	return s.current.Clone(), true
}

type state struct {
	settings  model.AppSettings
	histories []model.GenerationHistory
	current   *model.GeneratedContent
}

// persistLocked writes the full state to the primary and the changed key to
// the mirror. Only primary failures are returned.
func (s *Store) persistLocked(ctx context.Context, st state, changedKey string) error {
	settingsJSON, err := json.Marshal(st.settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	histories := st.histories
	if histories == nil {
		histories = []model.GenerationHistory{}
	}

	if s.primaryOK {
		doc := Document{
			Version:   SchemaVersion,
			Settings:  settingsJSON,
			Histories: &histories,
			Current:   st.current,
		}
		if err := s.primary.Save(ctx, doc); err != nil {
			return fmt.Errorf("save primary store: %w", err)
		}
	}

	if s.mirror == nil {
		return nil
	}

	var mirrorErr error
	switch changedKey {
	case KeySettings:
		mirrorErr = s.mirror.Set(ctx, KeySettings, string(settingsJSON))
	case KeyHistories:
		var data []byte
		if data, mirrorErr = json.Marshal(histories); mirrorErr == nil {
			mirrorErr = s.mirror.Set(ctx, KeyHistories, string(data))
		}
	case KeyCurrent:
		if st.current == nil {
			mirrorErr = s.mirror.Delete(ctx, KeyCurrent)
			break
		}
		var data []byte
		if data, mirrorErr = json.Marshal(st.current); mirrorErr == nil {
			mirrorErr = s.mirror.Set(ctx, KeyCurrent, string(data))
		}
	}
	if mirrorErr != nil {
		s.logger.Warn("mirror write failed", "op", "store_save", "key", changedKey, "err", mirrorErr)
	}
	return nil
}
