package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esvtools/esvsync/internal/log"
)

// Load reads one definition file, wires parent references and validates
// required fields.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied definition path
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing definition %s: %w", path, err)
	}
	def.path = path

	if def.Person != nil {
		def.Person.Vendor = def.Vendor
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug(log.CatConfig, "Loaded definition", "path", path)
	return &def, nil
}

// LoadDir loads every *.yaml definition in a directory, sorted by filename
// so processing order is stable across runs.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		def, err := Load(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
