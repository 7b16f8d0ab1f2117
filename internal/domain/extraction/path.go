package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

var indexedSegment = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// Resolve looks up path in root. Segments are separated by dots; a segment
// is either a key ("name"), a key followed by an index ("items[3]"), or a
// bare index into a sequence ("items.0"). The boolean is false when any
// segment cannot be resolved, which distinguishes an absent value from a
// present JSON null. An empty path returns root.
func Resolve(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		var ok bool
		if m := indexedSegment.FindStringSubmatch(segment); m != nil {
			if current, ok = lookupKey(current, m[1]); !ok {
				return nil, false
			}
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false
			}
			current, ok = lookupIndex(current, idx)
		} else {
			current, ok = lookupKey(current, segment)
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupKey(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case pipeline.Record:
		v, ok := n[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}
		return lookupIndex(n, idx)
	}
	return nil, false
}

func lookupIndex(node any, idx int) (any, bool) {
	seq, ok := node.([]any)
	if !ok || idx < 0 || idx >= len(seq) {
		return nil, false
	}
	return seq[idx], true
}
