// Package pipeline implements the pipeline driver (spec component C9):
// the seven-phase orchestration that threads every other component
// together into one link. It replaces the source's global mutable
// logger/statistics with an explicit LinkContext (spec §9).
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/logx"
)

// Options captures the CLI surface spec §6 describes.
type Options struct {
	Inputs     []string
	Output     string
	LibDirs    []string
	Libs       []string
	Libc       string // only "cosmo" is implemented
	GCSections bool

	DumpSymbols     bool
	DumpRelocations bool
	TraceResolve    bool
}

// Stats is the end-of-link summary spec §7 requires: purely
// observational, never fed back into link correctness.
type Stats struct {
	InputObjects        int           `yaml:"input_objects"`
	ArchiveMembers      int           `yaml:"archive_members_extracted"`
	RuntimeObjects      int           `yaml:"runtime_objects_injected"`
	SymbolsDefined      int           `yaml:"symbols_defined"`
	SymbolsWeak         int           `yaml:"symbols_weak"`
	SymbolsUndefined    int           `yaml:"symbols_undefined"`
	RelocationsApplied  int           `yaml:"relocations_applied"`
	RelocationsSkipped  int           `yaml:"relocations_skipped"`
	RelocationsViaPLT   int           `yaml:"relocations_redirected_to_plt"`
	SectionsMerged      int           `yaml:"sections_merged"`
	CodeSize            uint64        `yaml:"code_size_bytes"`
	DataSize            uint64        `yaml:"data_size_bytes"`
	WallTime            time.Duration `yaml:"wall_time"`
	DeadSectionsDropped int           `yaml:"dead_sections_dropped,omitempty"`
	SessionID           string        `yaml:"session_id"`
}

// LinkContext threads state through every phase of one link, standing in
// for the source's global logger/statistics singleton (spec §9). Session
// is a per-invocation correlation id (SPEC_FULL §3/§4) attached to every
// log line this context's Log emits and to the end-of-link summary.
type LinkContext struct {
	Opts    Options
	Log     *logx.Logger
	Machine elfobj.Machine
	Stats   Stats
	Session string
}

// New builds a LinkContext for one link run, minting a session id that
// correlates every log line and the end-of-link summary for this
// invocation (SPEC_FULL §3, §4).
func New(opts Options, log *logx.Logger) *LinkContext {
	session := uuid.NewString()
	return &LinkContext{
		Opts:    opts,
		Log:     &logx.Logger{Logger: log.Logger.With(logx.Session(session))},
		Machine: 0,
		Stats:   Stats{SessionID: session},
		Session: session,
	}
}
