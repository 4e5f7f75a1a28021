package reloc

import (
	"sort"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
	"github.com/coldironforge/linker/internal/logx"
	"github.com/coldironforge/linker/internal/symtab"
)

type contribLoc struct {
	section *layout.MergedSection
	offset  uint64
}

// contribIndex maps (objIndex, origSectionIndex) to where that section's
// bytes landed inside a MergedSection.
type contribIndex map[int]map[int]contribLoc

func buildContribIndex(sections []*layout.MergedSection) contribIndex {
	idx := make(contribIndex)
	for _, m := range sections {
		for _, c := range m.Contribs {
			byObj, ok := idx[c.ObjIndex]
			if !ok {
				byObj = make(map[int]contribLoc)
				idx[c.ObjIndex] = byObj
			}
			byObj[c.SecOrigIdx] = contribLoc{section: m, offset: c.OffsetInMerged}
		}
	}
	return idx
}

// site is one relocation bound to its destination merged section, ready
// for sorting and application.
type site struct {
	objIndex int
	obj      *elfobj.ObjectFile
	target   contribLoc
	rel      elfobj.Relocation
}

func defined(r *symtab.ResolvedSymbol) bool {
	return r.ObjIndex >= 0 || r.IsAbs || r.IsCommon || r.IsSynthetic
}

// isRelativeReloc reports a RELATIVE-class relocation, which writes
// base+addend and never consults the symbol table at all (conventionally
// carrying r_sym == STN_UNDEF, an unnamed, SecUndef symbol that
// resolveValue would otherwise report as unresolved).
func isRelativeReloc(machine elfobj.Machine, relType uint32) bool {
	switch machine {
	case elfobj.EM_X86_64:
		return relType == RX86_64_RELATIVE
	case elfobj.EM_AARCH64:
		return relType == RAARCH64_RELATIVE
	}
	return false
}

// resolveValue implements spec §4.6's symbol-value resolution order.
func resolveValue(s site, table *symtab.SymbolTable, idx contribIndex) (value uint64, ok bool) {
	sym := s.obj.Symbols[s.rel.Symbol]
	if sym.Name != "" {
		if rs, found := table.Lookup(sym.Name); found && defined(rs) {
			return rs.Value, true
		}
	}
	if sym.Section >= 0 {
		if loc, found := idx[s.objIndex][sym.Section]; found {
			return loc.section.VMA + loc.offset + sym.Value, true
		}
	}
	return 0, false
}

// Apply runs relocation pass 1 over every object against the laid-out
// merged sections, writing in-place and collecting PC-relative 32-bit
// overflows for pass 2 (spec §4.6).
func Apply(objs []*elfobj.ObjectFile, sections []*layout.MergedSection, table *symtab.SymbolTable, machine elfobj.Machine, log *logx.Logger) (*Result, error) {
	idx := buildContribIndex(sections)

	var sites []site
	for objIndex, obj := range objs {
		for _, rs := range obj.Relas {
			loc, ok := idx[objIndex][rs.TargetSection]
			if !ok {
				continue // target section was dropped from the image (e.g. debug info)
			}
			for _, r := range rs.Relocations {
				sites = append(sites, site{objIndex: objIndex, obj: obj, target: loc, rel: r})
			}
		}
	}

	// Batch ordering: stable sort by the canonical name of the target
	// merged section (spec §4.6).
	sort.SliceStable(sites, func(i, j int) bool {
		return sites[i].target.section.Name < sites[j].target.section.Name
	})

	res := &Result{}
	for _, s := range sites {
		sym := s.obj.Symbols[s.rel.Symbol]

		if machine == elfobj.EM_X86_64 && isX8664TLS(s.rel.Type) {
			log.Warn("TLS relocation in static link, skipping", logx.RelType("x86-64"), logx.Sym(sym.Name))
			res.Skipped++
			continue
		}

		var val uint64
		var ok bool
		if isRelativeReloc(machine, s.rel.Type) {
			ok = true // base+addend only; no symbol to resolve
		} else {
			val, ok = resolveValue(s, table, idx)
		}
		if !ok {
			log.Warn("unresolved reference, skipping relocation", logx.Sym(sym.Name), logx.File(s.obj.Path))
			res.Skipped++
			continue
		}
		if s.rel.Type == RX86_64_SIZE32 || s.rel.Type == RX86_64_SIZE64 {
			val = sym.Size // spec §4.6: SIZE32/SIZE64 consume the declared size, not the value
		}

		T, addOK := addUint64(s.target.offset, s.rel.Offset)
		buf := s.target.section.Data
		if !addOK || T > uint64(len(buf)) {
			return nil, linkerr.New(linkerr.InvalidInput, "relocation offset %#x out of bounds in section %s", s.rel.Offset, s.target.section.Name)
		}
		P := s.target.section.VMA + T

		var err error
		var overflowed bool
		switch machine {
		case elfobj.EM_X86_64:
			overflowed, err = applyX8664(buf, T, s.rel.Type, val, s.rel.Addend, P)
		case elfobj.EM_AARCH64:
			overflowed, err = applyAArch64(buf, T, s.rel.Type, val, s.rel.Addend, P)
		}
		if err != nil {
			// Width overflow on anything other than the PC32/PLT32-class
			// sites above is a warning (spec §4.6, §7): the site is left
			// unpatched and the link continues. Anything else (unknown
			// relocation type, out-of-bounds write) is fatal.
			if linkerr.As(err, linkerr.RelocationOverflow) {
				log.Warn("relocation value out of range, skipping", logx.Sym(sym.Name), logx.File(s.obj.Path))
				res.Skipped++
				continue
			}
			return nil, err
		}
		if overflowed {
			res.Overflows = append(res.Overflows, OverflowSite{
				Section: s.target.section, Offset: T, SiteAddr: P,
				RelType: s.rel.Type, SymbolName: sym.Name, Addend: s.rel.Addend,
			})
			continue
		}
		res.Applied++
	}
	return res, nil
}

// addUint64 mirrors elfobj's own addOK: a relocation offset that wraps
// uint64 on addition must be rejected, not silently truncated into an
// in-bounds write at the wrong location.
func addUint64(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

func fitsI32(v int64) bool { return v >= -(1<<31) && v < (1 << 31) }
func fitsU32(v uint64) bool { return v <= 0xffffffff }
func fitsI16(v int64) bool  { return v >= -(1<<15) && v < (1 << 15) }
func fitsU16(v uint64) bool { return v <= 0xffff }
func fitsI8(v int64) bool   { return v >= -(1<<7) && v < (1 << 7) }
func fitsU8(v uint64) bool  { return v <= 0xff }

func writeAt(buf []byte, off uint64, width int, val uint64) error {
	if off+uint64(width) > uint64(len(buf)) {
		return linkerr.New(linkerr.InvalidInput, "relocation write out of bounds at offset %#x width %d", off, width)
	}
	for i := 0; i < width; i++ {
		buf[off+uint64(i)] = byte(val >> (8 * i))
	}
	return nil
}
