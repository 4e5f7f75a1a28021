package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/coldironforge/linker/internal/arfmt"
	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/elfwriter"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
	"github.com/coldironforge/linker/internal/logx"
	"github.com/coldironforge/linker/internal/pltgot"
	"github.com/coldironforge/linker/internal/reloc"
	"github.com/coldironforge/linker/internal/symtab"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Link runs the full seven-phase pipeline described by spec §2 and §4,
// writing the output executable on success. Log lines carry the phase
// by name (link, resolve, reloc) for --trace-resolve / -vv readers; the
// phases map onto spec's phase list: parse (1), archive extraction (2,
// folded into symtab.ResolveWithArchives), merge+layout (3), resolve
// (already done by phase 2), relocate (4), GOT/PLT (4 pass 2),
// write (5).
func Link(ctx *LinkContext) error {
	start := time.Now()
	log := ctx.Log.WithPhase("link")

	if ctx.Opts.Libc != "" && ctx.Opts.Libc != "cosmo" {
		return linkerr.New(linkerr.UnsupportedFeature, "--libc=%s is not implemented (spec Open Question 5: only cosmo is)", ctx.Opts.Libc)
	}

	fixed, machine, err := parseInputs(ctx.Opts.Inputs)
	if err != nil {
		return err
	}
	ctx.Machine = machine
	ctx.Stats.InputObjects = len(fixed)

	archives, indices, err := openLibraries(ctx.Opts.Libs, ctx.Opts.LibDirs)
	if err != nil {
		return err
	}

	var trace symtab.TraceFunc
	if ctx.Opts.TraceResolve {
		traceLog := ctx.Log.WithPhase("resolve")
		trace = func(name, existingCat, incomingCat, decision string) {
			traceLog.Debug("resolution decision",
				logx.Sym(name), zap.String("existing", existingCat), zap.String("incoming", incomingCat),
				zap.String("decision", decision))
		}
	}

	objs, table := symtab.ResolveWithArchives(fixed, archives, indices, trace)
	ctx.Stats.ArchiveMembers = len(objs) - len(fixed)

	if ctx.Opts.GCSections {
		entryGuess := "_start"
		if _, ok := table.Lookup(entryGuess); !ok {
			entryGuess = "main"
		}
		var dropped int
		objs, dropped = gcSections(objs, entryGuess)
		ctx.Stats.DeadSectionsDropped = dropped
		table = symtab.Resolve(objs, trace) // re-resolve over the reduced object set
	}

	table.DefineSynthetics()

	sections := layout.Merge(objs)
	sections, commonOffsets := growCommons(sections, table)
	layout.AssignAddresses(sections)
	patchCommonAddresses(sections, table, commonOffsets)
	patchLayoutSynthetics(sections, table)

	// Relocation pass 1: discover which sites overflow before anything
	// GOT/PLT-shaped exists. These in-place writes become stale once
	// .got/.plt insertion shifts addresses, which is fine: every site is
	// rewritten for real in pass 2 below.
	res, err := reloc.Apply(objs, sections, table, machine, ctx.Log.WithPhase("reloc"))
	if err != nil {
		return err
	}

	if len(res.Overflows) > 0 {
		gotTable, extra := pltgot.Reserve(res.Overflows)
		sections = layout.InsertAfter(sections, ".text", extra)
		layout.AssignAddresses(sections)
		patchCommonAddresses(sections, table, commonOffsets)
		patchLayoutSynthetics(sections, table)

		// Fill reads .got/.plt's real VMAs off the sections above, after
		// AssignAddresses has placed them, so the GOT symbol, the stub
		// encodings, and the call-site rewrites below all agree with the
		// addresses the writer will actually emit.
		if err := pltgot.Fill(gotTable, sections, table, machine == elfobj.EM_AARCH64); err != nil {
			return err
		}
		table.Patch("_GLOBAL_OFFSET_TABLE_", gotTable.GotVMA)

		// Every site must be recomputed against the corrected,
		// post-insertion addresses, so pass 1 is redone in full rather
		// than patched incrementally.
		res, err = reloc.Apply(objs, sections, table, machine, ctx.Log.WithPhase("reloc"))
		if err != nil {
			return err
		}
		if err := pltgot.RewriteSites(res.Overflows, gotTable); err != nil {
			return err
		}
		ctx.Stats.RelocationsViaPLT = len(res.Overflows)
	}
	ctx.Stats.RelocationsApplied = res.Applied
	ctx.Stats.RelocationsSkipped = res.Skipped

	entry, err := resolveEntry(table)
	if err != nil {
		return err
	}

	if ctx.Opts.DumpSymbols {
		dumpSymbols(table)
	}
	if ctx.Opts.DumpRelocations {
		dumpRelocations(res)
	}

	fillStats(ctx, sections, table)
	ctx.Stats.WallTime = time.Since(start)

	if err := elfwriter.Write(ctx.Opts.Output, sections, machine, entry); err != nil {
		return err
	}

	sugar := log.Sugar()
	sugar.Infow("link complete",
		"input_objects", ctx.Stats.InputObjects,
		"archive_members_extracted", ctx.Stats.ArchiveMembers,
		"symbols_defined", ctx.Stats.SymbolsDefined,
		"symbols_undefined", ctx.Stats.SymbolsUndefined,
		"relocations_applied", ctx.Stats.RelocationsApplied,
		"relocations_redirected_to_plt", ctx.Stats.RelocationsViaPLT,
		"wall_time", ctx.Stats.WallTime.String(),
	)
	sugar.Sync()

	if ctx.Opts.DumpSymbols || ctx.Opts.DumpRelocations {
		summary, _ := yaml.Marshal(ctx.Stats)
		fmt.Fprint(os.Stderr, string(summary))
	}
	return nil
}

// symbolDump is the shape --dump-symbols renders as YAML (SPEC_FULL §3, §4).
type symbolDump struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Bind   string `yaml:"bind"`
	Common bool   `yaml:"common,omitempty"`
	Abs    bool   `yaml:"abs,omitempty"`
}

func dumpSymbols(table *symtab.SymbolTable) {
	var dump []symbolDump
	for _, n := range table.Names() {
		s, _ := table.Lookup(n)
		dump = append(dump, symbolDump{
			Name: n, Value: logx.Hex(s.Value), Bind: bindLabel(s.Bind), Common: s.IsCommon, Abs: s.IsAbs,
		})
	}
	out, _ := yaml.Marshal(dump)
	fmt.Fprint(os.Stderr, string(out))
}

func bindLabel(b uint8) string {
	switch b {
	case elfobj.STB_WEAK:
		return "weak"
	case elfobj.STB_LOCAL:
		return "local"
	default:
		return "global"
	}
}

// relocationDump is the shape --dump-relocations renders as YAML.
type relocationDump struct {
	Applied  int `yaml:"applied"`
	Skipped  int `yaml:"skipped"`
	Overflow int `yaml:"overflowed_to_plt"`
}

func dumpRelocations(res *reloc.Result) {
	out, _ := yaml.Marshal(relocationDump{Applied: res.Applied, Skipped: res.Skipped, Overflow: len(res.Overflows)})
	fmt.Fprint(os.Stderr, string(out))
}

func parseInputs(paths []string) ([]*elfobj.ObjectFile, elfobj.Machine, error) {
	if len(paths) == 0 {
		return nil, 0, linkerr.New(linkerr.InvalidInput, "no input object files")
	}
	objs := make([]*elfobj.ObjectFile, len(paths))
	var machine elfobj.Machine
	for i, p := range paths {
		obj, err := elfobj.Read(p)
		if err != nil {
			return nil, 0, err
		}
		if obj.Machine != elfobj.EM_X86_64 && obj.Machine != elfobj.EM_AARCH64 {
			return nil, 0, linkerr.New(linkerr.UnsupportedFeature, "unsupported machine %s in %s", obj.Machine, p).WithFile(p)
		}
		if machine == 0 {
			machine = obj.Machine
		} else if machine != obj.Machine {
			return nil, 0, linkerr.New(linkerr.UnsupportedFeature, "mixed architectures: %s vs %s", machine, obj.Machine).WithFile(p)
		}
		objs[i] = obj
	}
	return objs, machine, nil
}

func openLibraries(libs, libDirs []string) ([]*arfmt.Archive, []arfmt.Index, error) {
	var archives []*arfmt.Archive
	var indices []arfmt.Index
	for _, name := range libs {
		path, err := resolveLib(name, libDirs)
		if err != nil {
			return nil, nil, err
		}
		a, err := arfmt.Open(path)
		if err != nil {
			return nil, nil, err
		}
		archives = append(archives, a)
		indices = append(indices, arfmt.BuildIndex(a))
	}
	return archives, indices, nil
}

// patchLayoutSynthetics updates the address-dependent synthetic symbols
// (spec §4.5) once .text/.data/.bss have real VMAs.
func patchLayoutSynthetics(sections []*layout.MergedSection, table *symtab.SymbolTable) {
	data := layout.Find(sections, ".data")
	bss := layout.Find(sections, ".bss")
	if data != nil {
		table.Patch("_edata", data.VMA+data.Size)
	}
	if bss != nil {
		table.Patch("__bss_start", bss.VMA)
		table.Patch("_end", bss.VMA+bss.Size)
	} else if data != nil {
		table.Patch("_end", data.VMA+data.Size)
	}
}

// resolveEntry implements spec §4.8's entry lookup: _start, falling
// back to main, fatal if neither resolves.
func resolveEntry(table *symtab.SymbolTable) (uint64, error) {
	for _, name := range []string{"_start", "main"} {
		if s, ok := table.Lookup(name); ok && (s.ObjIndex >= 0 || s.IsAbs) {
			return s.Value, nil
		}
	}
	return 0, linkerr.New(linkerr.MissingEntry, "neither _start nor main resolved")
}

func fillStats(ctx *LinkContext, sections []*layout.MergedSection, table *symtab.SymbolTable) {
	ctx.Stats.SectionsMerged = len(sections)
	for _, s := range sections {
		switch s.Name {
		case ".text":
			ctx.Stats.CodeSize = s.Size
		case ".rodata", ".data", ".bss":
			ctx.Stats.DataSize += s.Size
		}
	}
	for _, n := range table.Names() {
		s, _ := table.Lookup(n)
		switch {
		case s.IsSynthetic:
		case s.ObjIndex < 0 && !s.IsAbs && !s.IsCommon:
			ctx.Stats.SymbolsUndefined++
		case s.Bind == elfobj.STB_WEAK:
			ctx.Stats.SymbolsWeak++
		default:
			ctx.Stats.SymbolsDefined++
		}
	}
}

