// Package symtab implements the global symbol resolver (spec component
// C5): building the SymbolTable from every loaded object, honouring the
// strong/weak/common resolution rules, driving lazy archive extraction,
// and defining synthetic runtime symbols.
package symtab

import (
	"sort"

	"github.com/coldironforge/linker/internal/arfmt"
	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/pool"
)

// category classifies a symbol for the resolution table in spec §4.5.
type category int

const (
	catUndef category = iota
	catWeak
	catGlobal
	catCommon
)

func classify(sym elfobj.Symbol) category {
	switch {
	case sym.Section == elfobj.SecUndef:
		return catUndef
	case sym.Section == elfobj.SecCommon || sym.Type == elfobj.STT_COMMON:
		return catCommon
	case sym.Bind == elfobj.STB_WEAK:
		return catWeak
	default:
		return catGlobal
	}
}

// ResolvedSymbol is one globally-visible name in the SymbolTable (spec §3).
type ResolvedSymbol struct {
	Name       string
	Value      uint64 // pre-layout: offset within owning section; post-layout: absolute VMA
	Size       uint64
	ObjIndex   int
	SecOrigIdx int // original section index within the owning object, or a SecXxx pseudo value
	Bind       uint8
	IsAbs      bool
	IsCommon   bool
	IsSynthetic bool
	Align      uint64 // meaningful only when IsCommon: the symbol's requested alignment
}

// SymbolTable is the resolved global symbol table (spec §3).
type SymbolTable struct {
	interner *pool.Interner
	byName   map[string]*ResolvedSymbol
	order    []string // insertion order, for deterministic iteration (spec property 3)
}

// New creates an empty SymbolTable.
func New() *SymbolTable {
	return &SymbolTable{interner: pool.NewInterner(), byName: make(map[string]*ResolvedSymbol)}
}

// Lookup returns the resolved entry for name, if any.
func (t *SymbolTable) Lookup(name string) (*ResolvedSymbol, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Names returns every resolved name in first-seen order.
func (t *SymbolTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Undefined returns every name still unresolved, in deterministic
// (sorted) order.
func (t *SymbolTable) Undefined() []string {
	var names []string
	for _, n := range t.order {
		s := t.byName[n]
		if s.ObjIndex < 0 && !s.IsAbs && !s.IsCommon && !s.IsSynthetic {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (t *SymbolTable) set(name string, r *ResolvedSymbol) {
	name = t.interner.Intern(name)
	if _, exists := t.byName[name]; !exists {
		t.order = append(t.order, name)
	}
	r.Name = name
	t.byName[name] = r
}

// candidate bundles a symbol with the object it came from so the
// resolution table can build a ResolvedSymbol on acceptance.
type candidate struct {
	objIndex int
	sym      elfobj.Symbol
}

func toResolved(c candidate) *ResolvedSymbol {
	cat := classify(c.sym)
	r := &ResolvedSymbol{
		Name:       c.sym.Name,
		Value:      c.sym.Value,
		Size:       c.sym.Size,
		ObjIndex:   c.objIndex,
		SecOrigIdx: c.sym.Section,
		Bind:       c.sym.Bind,
	}
	switch cat {
	case catUndef:
		r.ObjIndex = -1
	case catCommon:
		r.IsCommon = true
		r.Align = c.sym.Value // SHN_COMMON's "value" field is the requested alignment
		r.Value = 0
	}
	if c.sym.Section == elfobj.SecAbs {
		r.IsAbs = true
	}
	return r
}

// TraceFunc receives one line per resolution decision absorb makes, for
// --trace-resolve (spec §4.5 / SPEC_FULL §4): name, the category pairing
// that fired, and which side of the table in §4.5 won.
type TraceFunc func(name, existingCat, incomingCat, decision string)

func (c category) String() string {
	switch c {
	case catUndef:
		return "undef"
	case catWeak:
		return "weak"
	case catGlobal:
		return "global"
	case catCommon:
		return "common"
	default:
		return "?"
	}
}

// absorb applies spec §4.5's resolution table for one incoming candidate
// against the table's current entry for its name (if any).
func (t *SymbolTable) absorb(c candidate, trace TraceFunc) {
	name := c.sym.Name
	existing, has := t.byName[name]
	if !has {
		t.set(name, toResolved(c))
		if trace != nil {
			trace(name, "none", classify(c.sym).String(), "first definition")
		}
		return
	}

	existingCat := existingCategory(existing)
	incomingCat := classify(c.sym)
	emit := func(decision string) {
		if trace != nil {
			trace(name, existingCat.String(), incomingCat.String(), decision)
		}
	}

	switch {
	case incomingCat == catUndef:
		// any existing, incoming undefined: keep existing
		emit("kept existing, incoming undefined")
		return
	case existingCat == catUndef:
		// UNDEF -> any defined incoming: replace
		t.set(name, toResolved(c))
		emit("replaced undefined with definition")
	case existingCat == catWeak && incomingCat == catGlobal:
		t.set(name, toResolved(c))
		emit("global overrides weak")
	case existingCat == catGlobal && incomingCat == catWeak:
		emit("kept global over weak")
		return
	case existingCat == catGlobal && incomingCat == catGlobal:
		emit("kept first global, duplicate ignored")
		return // lenient: keep first, no error
	case existingCat == catCommon && incomingCat == catCommon:
		if c.sym.Size > existing.Size {
			t.set(name, toResolved(c))
			emit("larger common replaces smaller")
		} else {
			emit("kept larger (or equal) common")
		}
	case existingCat == catCommon && (incomingCat == catGlobal || incomingCat == catWeak):
		// a real definition dominates a tentative common one
		t.set(name, toResolved(c))
		emit("definition overrides tentative common")
	case (existingCat == catGlobal || existingCat == catWeak) && incomingCat == catCommon:
		emit("kept definition over tentative common")
		return
	default:
		emit("kept first weak, duplicate ignored")
		return
	}
}

func existingCategory(r *ResolvedSymbol) category {
	switch {
	case r.ObjIndex < 0 && !r.IsCommon && !r.IsAbs && !r.IsSynthetic:
		return catUndef
	case r.IsCommon:
		return catCommon
	case r.Bind == elfobj.STB_WEAK:
		return catWeak
	default:
		return catGlobal
	}
}

// globalCandidates returns the non-local, non-section, non-file symbols
// of obj, in object order.
func globalCandidates(objIndex int, obj *elfobj.ObjectFile) []candidate {
	var out []candidate
	for _, sym := range obj.Symbols {
		if sym.Name == "" {
			continue
		}
		if sym.Bind == elfobj.STB_LOCAL {
			continue
		}
		if sym.Type == elfobj.STT_SECTION || sym.Type == elfobj.STT_FILE {
			continue
		}
		out = append(out, candidate{objIndex: objIndex, sym: sym})
	}
	return out
}

// Resolve performs phase 3 over a fixed object list: every non-local
// global/weak/common/undefined symbol from every object, applied in
// object order then symbol order, which is what spec property 3 (bit-
// identical results for the same ordered input) depends on.
func Resolve(objs []*elfobj.ObjectFile, trace ...TraceFunc) *SymbolTable {
	var tf TraceFunc
	if len(trace) > 0 {
		tf = trace[0]
	}
	t := New()
	for objIndex, obj := range objs {
		for _, c := range globalCandidates(objIndex, obj) {
			t.absorb(c, tf)
		}
	}
	return t
}

// ResolveWithArchives implements the lazy archive extraction loop (spec
// §4.5): resolve against the fixed object list, then repeatedly pull
// archive members that define a currently-undefined name, bounded at
// ten rounds. It returns the final object list (fixed objects plus every
// extracted member, in extraction order) and the resolved table.
func ResolveWithArchives(fixed []*elfobj.ObjectFile, archives []*arfmt.Archive, indices []arfmt.Index, trace ...TraceFunc) ([]*elfobj.ObjectFile, *SymbolTable) {
	var tf TraceFunc
	if len(trace) > 0 {
		tf = trace[0]
	}
	objs := append([]*elfobj.ObjectFile(nil), fixed...)
	extractedOffset := make([]map[int64]bool, len(archives))
	for i := range extractedOffset {
		extractedOffset[i] = make(map[int64]bool)
	}

	table := Resolve(objs, tf)

	const maxRounds = 10
	for round := 0; round < maxRounds; round++ {
		undefined := table.Undefined()
		if len(undefined) == 0 {
			break
		}
		needed := make(map[string]bool, len(undefined))
		for _, n := range undefined {
			needed[n] = true
		}

		var newObjs []*elfobj.ObjectFile
		for i, a := range archives {
			idx := indices[i]
			extracted, err := arfmt.ExtractForSymbols(a, idx, needed)
			if err != nil {
				continue
			}
			for _, obj := range extracted {
				// ExtractForSymbols already dedupes within one call;
				// extractedOffset guards against re-extracting the
				// same member across rounds when the first attempt's
				// definition still left other names undefined.
				entry, ok := findOffset(idx, obj)
				if ok && extractedOffset[i][entry] {
					continue
				}
				if ok {
					extractedOffset[i][entry] = true
				}
				newObjs = append(newObjs, obj)
			}
		}
		if len(newObjs) == 0 {
			break // no progress possible
		}
		objs = append(objs, newObjs...)
		table = Resolve(objs, tf)
	}

	return objs, table
}

func findOffset(idx arfmt.Index, obj *elfobj.ObjectFile) (int64, bool) {
	for _, sym := range obj.Symbols {
		if e, ok := idx[sym.Name]; ok && e.Member == obj.Path {
			return e.HeaderOffset, true
		}
	}
	return 0, false
}
