package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
)

// RuntimeFactory builds a runtime for a freshly loaded sheet. Wiring of the
// submission and feed dependencies happens at startup, not here.
type RuntimeFactory func(sheet model.AnswerSheet) *Runtime

// Registry keeps at most one runtime per open answer sheet. Reconnecting
// clients attach to the existing runtime; submitted sheets are evicted.
type Registry struct {
	mu       sync.Mutex
	runtimes map[uuid.UUID]*Runtime
	factory  RuntimeFactory
	baseCtx  context.Context
	log      zerolog.Logger
}

func NewRegistry(ctx context.Context, factory RuntimeFactory, log zerolog.Logger) *Registry {
	return &Registry{
		runtimes: make(map[uuid.UUID]*Runtime),
		factory:  factory,
		baseCtx:  ctx,
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

// Acquire returns the runtime for the sheet, creating and starting one from
// the given snapshot when none is live yet.
func (r *Registry) Acquire(sheet model.AnswerSheet) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.runtimes[sheet.ID]; ok {
		return rt
	}
	rt := r.factory(sheet)
	rt.Start(r.baseCtx)
	r.runtimes[sheet.ID] = rt
	r.log.Info().Str("answer_sheet_id", sheet.ID.String()).Msg("session runtime started")
	return rt
}

// Get returns the live runtime for a sheet, if any.
func (r *Registry) Get(sheetID uuid.UUID) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[sheetID]
	return rt, ok
}

// Remove evicts and closes the runtime for a sheet. Called after submission
// and by administrative cleanup.
func (r *Registry) Remove(sheetID uuid.UUID) {
	r.mu.Lock()
	rt, ok := r.runtimes[sheetID]
	if ok {
		delete(r.runtimes, sheetID)
	}
	r.mu.Unlock()

	if ok {
		rt.Close()
		r.log.Info().Str("answer_sheet_id", sheetID.String()).Msg("session runtime removed")
	}
}

// Shutdown closes every live runtime. Used on server shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	runtimes := make([]*Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		runtimes = append(runtimes, rt)
	}
	r.runtimes = make(map[uuid.UUID]*Runtime)
	r.mu.Unlock()

	for _, rt := range runtimes {
		rt.Close()
	}
}
