package axbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"lukechampine.com/blake3"
)

// configFileName is the file the kernel build reads its merged configuration
// from, one per (target, profile) pair under the target directory.
const configFileName = "axconfig.toml"

// Document is a parsed configuration overlay: top-level keys form the global
// table, nested tables hold per-component settings.
type Document map[string]any

func parseConfig(data []byte) (Document, error) {
	var doc Document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// merge overlays another document on top of this one. Keys in the overlay
// win; tables merge key-wise, everything else is replaced wholesale.
func (d Document) merge(overlay Document) {
	for key, val := range overlay {
		sub, ok := val.(map[string]any)
		if !ok {
			d[key] = val
			continue
		}
		cur, ok := d[key].(map[string]any)
		if !ok {
			cur = map[string]any{}
			d[key] = cur
		}
		Document(cur).merge(sub)
	}
}

// dump serializes the document back to TOML. go-toml emits map keys in
// sorted order, so identical documents always serialize identically.
func (d Document) dump() ([]byte, error) {
	return toml.Marshal(map[string]any(d))
}

// mergedConfig layers, in order: compiled-in defaults, the platform fragment,
// each override file left to right, and finally the forced smp value. The
// smp key always reflects the resolved CPU count no matter what any overlay
// set, so the config file, the AX_SMP variable, and the emulator -smp flag
// can never disagree.
func mergedConfig(platform Platform, configPaths []string, cpus int) (Document, error) {
	doc := platform.baseConfig()

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file `%s`: %w", path, err)
		}
		overlay, err := parseConfig(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file `%s`: %w", path, err)
		}
		doc.merge(overlay)
	}

	doc["smp"] = int64(cpus)
	return doc, nil
}

// writeIfChanged writes data to path only when the content differs from what
// is already there, so an unchanged config never retriggers downstream
// rebuilds. Parent directories are created on first write.
func writeIfChanged(path string, data []byte) error {
	if old, err := os.ReadFile(path); err == nil {
		if blake3.Sum256(old) == blake3.Sum256(data) {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory `%s`: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file `%s`: %w", path, err)
	}
	return nil
}
