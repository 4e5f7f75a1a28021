package pipeline

import (
	"path/filepath"

	"github.com/coldironforge/linker/internal/elfobj"
)

// alwaysLiveBasenames are the runtime objects spec §4.7 requires kept
// regardless of reachability.
var alwaysLiveBasenames = map[string]bool{
	"crt.o": true, "ape.o": true, "hostos.o": true, "envp.o": true, "oldstack.o": true,
}

// gcSections implements spec §4.7: BFS from the entry symbol and the
// fixed always-live set, along undefined-symbol -> defining-object
// edges. Objects never reached are dropped before merging; the second
// return value is how many were dropped, for the end-of-link summary.
func gcSections(objs []*elfobj.ObjectFile, entryName string) ([]*elfobj.ObjectFile, int) {
	definer := make(map[string]int, len(objs)*8)
	for i, obj := range objs {
		for _, sym := range obj.Symbols {
			if sym.Section == elfobj.SecUndef || sym.Name == "" {
				continue
			}
			if sym.Bind != elfobj.STB_GLOBAL && sym.Bind != elfobj.STB_WEAK {
				continue
			}
			if _, exists := definer[sym.Name]; !exists {
				definer[sym.Name] = i
			}
		}
	}

	live := make(map[int]bool, len(objs))
	var queue []int
	for i, obj := range objs {
		if alwaysLiveBasenames[filepath.Base(obj.Path)] {
			live[i] = true
			queue = append(queue, i)
		}
	}
	if entryName != "" {
		if i, ok := definer[entryName]; ok && !live[i] {
			live[i] = true
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, sym := range objs[i].Symbols {
			if sym.Section != elfobj.SecUndef || sym.Name == "" {
				continue
			}
			d, ok := definer[sym.Name]
			if !ok || live[d] {
				continue
			}
			live[d] = true
			queue = append(queue, d)
		}
	}

	var kept []*elfobj.ObjectFile
	dropped := 0
	for i, obj := range objs {
		if live[i] {
			kept = append(kept, obj)
		} else {
			dropped++
		}
	}
	return kept, dropped
}
