package layout

// AssignAddresses lays out sections starting at BaseAddress in the order
// the slice gives them; it does not reorder (Merge already yields .text,
// .rodata, .data, .bss, then any others). It follows spec §4.4's
// alignment policy:
//   - .text: page-aligned (4096)
//   - .rodata: 16-byte aligned, kept close to .text to minimise PC32 overflow
//   - .data: page-aligned (begins a new RW segment)
//   - everything else: its own declared alignment
//
// Sections not present in the merge are simply absent from the result;
// VMAs are strictly increasing in slice order (spec property 5).
func AssignAddresses(sections []*MergedSection) {
	addr := uint64(BaseAddress)
	for _, s := range sections {
		align := sectionAlign(s)
		addr = alignUp(addr, align)
		s.VMA = addr
		addr += s.Size
	}
}

func sectionAlign(s *MergedSection) uint64 {
	switch s.Name {
	case ".text":
		return pageSize
	case ".rodata":
		return 16
	case ".data":
		return pageSize
	default:
		if s.Align == 0 {
			return 1
		}
		return s.Align
	}
}

// Find returns the merged section named name, or nil.
func Find(sections []*MergedSection, name string) *MergedSection {
	for _, s := range sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}
