package layout

// InsertAfter returns a new slice with extra inserted immediately after
// the section named after, preserving the relative order of everything
// else. Used by pass 2 (spec §4.6) to splice the synthesized .got/.plt
// in right after .text before addresses are reassigned. If after is not
// found, extra is appended at the end.
func InsertAfter(sections []*MergedSection, after string, extra []*MergedSection) []*MergedSection {
	if len(extra) == 0 {
		return sections
	}
	out := make([]*MergedSection, 0, len(sections)+len(extra))
	inserted := false
	for _, s := range sections {
		out = append(out, s)
		if s.Name == after {
			out = append(out, extra...)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, extra...)
	}
	return out
}

// AppendBSS grows bss by size (aligned to align), returning the offset
// within bss (prior to growth) at which the new allocation begins. Used
// to give COMMON symbols a final home once every object's tentative
// definitions have been resolved (spec §4.5's COMMON handling).
func AppendBSS(bss *MergedSection, size, align uint64) uint64 {
	if align == 0 {
		align = 1
	}
	offset := alignUp(bss.Size, align)
	bss.Size = offset + size
	if align > bss.Align {
		bss.Align = align
	}
	return offset
}
