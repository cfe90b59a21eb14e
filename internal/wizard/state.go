// Package wizard tracks which screen each chat is on and what input the
// bot is waiting for.
package wizard

import (
	"strings"
	"sync"
	"time"
)

type Step string

const (
	StepUpload     Step = "upload"
	StepConfig     Step = "config"
	StepGenerating Step = "generating"
	StepEditing    Step = "editing"
	StepSettings   Step = "settings"
	StepHistory    Step = "history"
)

func ParseStep(v string) (Step, bool) {
	switch s := Step(strings.ToLower(strings.TrimSpace(v))); s {
	case StepUpload, StepConfig, StepGenerating, StepEditing, StepSettings, StepHistory:
		return s, true
	}
	return "", false
}

// Input is the free text the bot expects next.
type Input string

const (
	InputNone        Input = ""
	InputTitle       Input = "title"
	InputDescription Input = "description"
	InputRedraw      Input = "redraw"
	InputBrand       Input = "brand"
	InputExtra       Input = "extra"
	InputAPIKey      Input = "apikey"
	InputBaseURL     Input = "baseurl"
	InputExportPath  Input = "exportpath"
)

type UIState struct {
	Step Step

	// Awaiting names the pending text input; Target carries its argument,
	// e.g. the image id for a redraw.
	Awaiting Input
	Target   string

	// RequestID identifies the generation started from the config screen.
	// It is cleared when the user leaves the generating screen so the next
	// visit starts a fresh request.
	RequestID string

	// MessageID is the bot message edited in place for menus and progress.
	MessageID   int
	HistoryPage int

	UpdatedAt time.Time
}

// Await sets the pending input.
func (s *UIState) Await(in Input, target string) {
	s.Awaiting = in
	s.Target = target
}

// Go moves to step. Leaving a screen drops its pending input; leaving the
// generating screen also ends the request it was showing.
func (s *UIState) Go(step Step) {
	if s.Step == step {
		return
	}
	if s.Step == StepGenerating {
		s.RequestID = ""
	}
	s.Step = step
	s.Awaiting = InputNone
	s.Target = ""
	if step != StepHistory {
		s.HistoryPage = 0
	}
}

type Store struct {
	mu sync.Mutex
	m  map[stateKey]*UIState
}

type stateKey struct {
	ChatID int64
	UserID int64
}

func NewStore() *Store {
	return &Store{m: make(map[stateKey]*UIState)}
}

func (s *Store) Get(chatID, userID int64) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(chatID, userID)
}

func (s *Store) Update(chatID, userID int64, fn func(*UIState)) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	if fn != nil {
		fn(st)
	}
	st.UpdatedAt = time.Now()
	return *st
}

func (s *Store) Reset(chatID, userID int64) UIState {
	return s.Update(chatID, userID, func(st *UIState) {
		*st = defaultState()
	})
}

func (s *Store) getOrCreateLocked(chatID, userID int64) *UIState {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := defaultState()
	s.m[key] = &st
	return s.m[key]
}

func defaultState() UIState {
	return UIState{Step: StepUpload, UpdatedAt: time.Now()}
}
