// Package settings implements the gateway's persisted settings store:
// six sections (global, grok, token, cache, performance, register),
// each merged over a fixed default before being handed to a caller, with
// whole-document atomic writes on update.
//
// The store keeps its document as a single JSON blob and edits it with
// gjson/sjson field-path operations rather than unmarshaling into a
// rigid struct per section — a loosely-typed, per-field-present idiom
// (a field is either present and overrides the default, or absent and
// the default stands), generalized here from an in-memory snapshot to a
// JSON document persisted to disk.
package settings

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Section names the six persisted settings groups.
type Section string

const (
	SectionGlobal      Section = "global"
	SectionGrok        Section = "grok"
	SectionToken       Section = "token"
	SectionCache       Section = "cache"
	SectionPerformance Section = "performance"
	SectionRegister    Section = "register"
)

var allSections = []Section{
	SectionGlobal, SectionGrok, SectionToken, SectionCache, SectionPerformance, SectionRegister,
}

// defaults holds each section's baseline, expressed as flat field maps.
var defaults = map[Section]map[string]interface{}{
	SectionGlobal: {
		"show_thinking": true,
		"filter_tags":   []interface{}{"xaiartifact", "xai:tool_usage_card"},
	},
	SectionGrok: {
		"base_url":                "https://grok.com",
		"image_generation_method": "legacy",
	},
	SectionToken: {
		"pool": []interface{}{},
	},
	SectionCache: {
		"enabled":     true,
		"ttl_seconds": float64(3600),
	},
	SectionPerformance: {
		"worker_concurrency": float64(4),
	},
	SectionRegister: {
		"allow_registration": false,
	},
}

// imageGenerationMethodAliases maps legacy/alternate spellings accepted
// from clients onto the canonical value the gateway acts on. Every value
// is one of the two closed-set methods the gateway actually implements.
var imageGenerationMethodAliases = map[string]string{
	"legacy":       "legacy",
	"dalle":        "legacy",
	"legacy_image": "legacy",
	"ws":           "imagine_ws_experimental",
	"imagine_ws":   "imagine_ws_experimental",
}

// Store is a JSON-document-backed settings store guarded by an RWMutex.
// Reads merge the stored overrides over defaults; writes replace the
// whole document atomically on disk.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  []byte // raw JSON document, one object per section
}

// Open loads path if it exists, or starts from an empty document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: []byte("{}")}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(raw) > 0 {
		s.doc = raw
	}
	return s, nil
}

// OpenFromBytes builds a Store from an already-loaded document (typically
// restored from Postgres on process start) instead of reading path from
// disk. The document is also written through to path so subsequent
// restarts without a reachable database still find it.
func OpenFromBytes(path string, doc []byte) (*Store, error) {
	s := &Store{path: path, doc: []byte("{}")}
	if len(doc) > 0 {
		s.doc = doc
	}
	if err := writeFileAtomic(path, s.doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns section's fields merged over its defaults. The returned
// map is a copy; mutating it has no effect on the store.
func (s *Store) Get(section Section) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{}, len(defaults[section]))
	for k, v := range defaults[section] {
		out[k] = v
	}

	stored := gjson.GetBytes(s.doc, string(section))
	if stored.IsObject() {
		stored.ForEach(func(key, value gjson.Result) bool {
			out[key.String()] = value.Value()
			return true
		})
	}

	if section == SectionGrok {
		if v, ok := out["image_generation_method"].(string); ok {
			out["image_generation_method"] = NormalizeImageGenerationMethod(v)
		}
		if v, ok := out["cf_clearance"].(string); ok && v != "" {
			out["cf_clearance"] = "cf_clearance=" + v
		}
	}
	return out
}

// SetBatch applies field-level updates across one or more sections in a
// single in-memory edit, then persists the whole document in one atomic
// write. Either every field is applied and the write succeeds, or none
// are (an error leaves the store's in-memory document untouched).
func (s *Store) SetBatch(updates map[Section]map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.doc
	sections := make([]Section, 0, len(updates))
	for sec := range updates {
		sections = append(sections, sec)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i] < sections[j] })

	for _, sec := range sections {
		fields := updates[sec]
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := fields[key]
			if sec == SectionGrok && key == "cf_clearance" {
				if str, ok := value.(string); ok {
					value = StripCFClearancePrefix(str)
				}
			}
			if sec == SectionGrok && key == "image_generation_method" {
				if str, ok := value.(string); ok {
					value = NormalizeImageGenerationMethod(str)
				}
			}
			next, err := sjson.SetBytes(doc, string(sec)+"."+key, value)
			if err != nil {
				return err
			}
			doc = next
		}
	}

	if err := writeFileAtomic(s.path, doc); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// StripCFClearancePrefix removes a "cf_clearance=" prefix some clients
// paste verbatim from a browser cookie header.
func StripCFClearancePrefix(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "cf_clearance=")
}

// NormalizeImageGenerationMethod maps a client-supplied alias onto the
// canonical method name, defaulting an unrecognized value to "legacy".
func NormalizeImageGenerationMethod(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if canonical, ok := imageGenerationMethodAliases[v]; ok {
		return canonical
	}
	return "legacy"
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Raw returns a copy of the store's current JSON document, for callers
// that mirror it into durable storage (see internal/store).
func (s *Store) Raw() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.doc))
	copy(out, s.doc)
	return out
}

// SectionsRaw returns each section's raw stored overrides (not merged with
// defaults), keyed by section name, for a caller mirroring the document
// into one row per section in durable storage rather than a single blob.
// A section with no overrides yet is omitted.
func (s *Store) SectionsRaw() map[Section][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Section][]byte, len(allSections))
	for _, sec := range allSections {
		v := gjson.GetBytes(s.doc, string(sec))
		if v.Exists() {
			raw := make([]byte, len(v.Raw))
			copy(raw, v.Raw)
			out[sec] = raw
		}
	}
	return out
}

// BuildDocument assembles a full settings JSON document from per-section
// raw values, in the shape Open/OpenFromBytes expect, for a caller
// restoring a document from per-section durable storage.
func BuildDocument(sections map[Section][]byte) ([]byte, error) {
	doc := []byte("{}")
	for _, sec := range allSections {
		raw, ok := sections[sec]
		if !ok || len(raw) == 0 {
			continue
		}
		next, err := sjson.SetRawBytes(doc, string(sec), raw)
		if err != nil {
			return nil, err
		}
		doc = next
	}
	return doc, nil
}

// AllSections returns every section name, in a stable order.
func AllSections() []Section {
	out := make([]Section, len(allSections))
	copy(out, allSections)
	return out
}
