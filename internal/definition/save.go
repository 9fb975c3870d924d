package definition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/esvtools/esvsync/internal/log"
)

// PersistIDs writes the remote ids currently bound to the definition back
// into its YAML file. It is invoked whenever an id is newly learned or
// confirmed, including on registration error paths, so that a partially
// completed registration is never lost.
//
// The writeback edits individual scalar nodes so comments and formatting in
// the rest of the file survive, and replaces the file atomically.
func (d *Definition) PersistIDs() error {
	data, err := os.ReadFile(d.path) //nolint:gosec // G304: operator-supplied definition path
	if err != nil {
		return fmt.Errorf("reading definition: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing definition: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return fmt.Errorf("definition %s is not a YAML mapping", d.path)
	}
	root := doc.Content[0]

	if d.Vendor != nil {
		setUintKey(root, d.Vendor.RemoteID, "vendor", "remote_id")
		setUintKey(root, d.Vendor.RequestID, "vendor", "request_id")
	}
	if d.Person != nil {
		setUintKey(root, d.Person.RemoteID, "person", "remote_id")
		setUintKey(root, d.Person.RequestID, "person", "request_id")
	}
	if d.EntropySource != nil {
		setUintKey(root, d.EntropySource.SessionID, "entropy_source", "session_id")
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}
	_ = encoder.Close()

	// Write atomically (write to temp, then rename)
	dir := filepath.Dir(d.path)
	temp, err := os.CreateTemp(dir, ".definition.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, d.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	log.Debug(log.CatConfig, "Persisted remote ids", "path", d.path)
	return nil
}

// setUintKey sets the mapping value at the given key path, creating
// intermediate mappings and the leaf key when absent.
func setUintKey(root *yaml.Node, value uint64, path ...string) {
	node := root
	for _, key := range path[:len(path)-1] {
		next := findMapValue(node, key)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				next,
			)
		}
		node = next
	}

	leaf := path[len(path)-1]
	rendered := strconv.FormatUint(value, 10)
	if existing := findMapValue(node, leaf); existing != nil {
		existing.Kind = yaml.ScalarNode
		existing.Tag = "!!int"
		existing.Value = rendered
		return
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: leaf},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: rendered},
	)
}

func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
