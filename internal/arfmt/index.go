package arfmt

import (
	"sort"

	"github.com/coldironforge/linker/internal/elfobj"
)

// IndexEntry records where a defined global/weak symbol can be found.
type IndexEntry struct {
	Member       string
	HeaderOffset int64
}

// Index maps a defined symbol name to the archive member that defines it
// (spec §4.2's build_archive_index). Corrupted or non-ELF64 members are
// skipped rather than failing the whole archive.
type Index map[string]IndexEntry

// BuildIndex performs the single linear scan spec §4.2 describes: for
// every member that parses as a valid ELF64 relocatable, every defined
// (non-UNDEF) GLOBAL/WEAK symbol is recorded against that member.
func BuildIndex(a *Archive) Index {
	idx := make(Index)
	for _, m := range a.Members {
		obj, err := elfobj.ReadBytes(m.Data, m.Name)
		if err != nil {
			continue // corrupted member: skipped, not fatal
		}
		for _, sym := range obj.Symbols {
			if sym.Section == elfobj.SecUndef {
				continue
			}
			if sym.Bind != elfobj.STB_GLOBAL && sym.Bind != elfobj.STB_WEAK {
				continue
			}
			if sym.Name == "" {
				continue
			}
			if _, exists := idx[sym.Name]; exists {
				continue // first definition wins, matches archive link-order semantics
			}
			idx[sym.Name] = IndexEntry{Member: m.Name, HeaderOffset: m.Offset}
		}
	}
	return idx
}

// ExtractForSymbols collects the unique member offsets in idx that
// define any name in needed, and parses each exactly once into an
// ObjectFile read directly from the archive's resident buffer (spec
// §4.2's extract_objects_for_symbols).
func ExtractForSymbols(a *Archive, idx Index, needed map[string]bool) ([]*elfobj.ObjectFile, error) {
	names := make([]string, 0, len(needed))
	for name := range needed {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic extraction order regardless of map iteration

	seenOffset := make(map[int64]bool)
	var objs []*elfobj.ObjectFile
	for _, name := range names {
		entry, ok := idx[name]
		if !ok {
			continue
		}
		if seenOffset[entry.HeaderOffset] {
			continue
		}
		seenOffset[entry.HeaderOffset] = true

		data, err := a.ExtractAt(entry.HeaderOffset)
		if err != nil {
			return nil, err
		}
		obj, err := elfobj.ReadBytes(data, entry.Member)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
