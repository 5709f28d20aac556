// Package testutil provides the shared schema fixture the package
// tests build their trees from.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/nexusconf/schema"
)

// ModuleYAML is a module definition exercising every schema construct:
// nested containers, keyed lists, user-ordered lists and leaf-lists,
// presence containers, defaults and mandatory leaves.
const ModuleYAML = `
module: net
revision: "2024-01-15"
nodes:
  - name: system
    kind: container
    children:
      - name: hostname
        kind: leaf
        default: "router"
      - name: mtu
        kind: leaf
        default: "1500"
      - name: location
        kind: leaf
  - name: interfaces
    kind: container
    children:
      - name: interface
        kind: list
        keys: [name]
        children:
          - name: name
            kind: leaf
          - name: enabled
            kind: leaf
            default: "true"
          - name: description
            kind: leaf
          - name: address
            kind: list
            keys: [ip]
            children:
              - name: ip
                kind: leaf
              - name: prefixlen
                kind: leaf
                mandatory: true
  - name: dns
    kind: container
    children:
      - name: server
        kind: leaf-list
        ordered-by-user: true
  - name: rule
    kind: list
    keys: [id]
    ordered-by-user: true
    children:
      - name: id
        kind: leaf
      - name: action
        kind: leaf
  - name: debug
    kind: container
    presence: true
    children:
      - name: level
        kind: leaf
        default: "0"
`

// Module parses the fixture module.
func Module(t *testing.T) *schema.Module {
	t.Helper()
	m, err := schema.Parse(strings.NewReader(ModuleYAML))
	if err != nil {
		t.Fatalf("parse fixture module: %v", err)
	}
	return m
}

// WriteSchemaDir writes the fixture module definition into a temp
// directory and returns its path, for engine-level tests that load
// schemas from disk.
func WriteSchemaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "net.yaml"), []byte(ModuleYAML), 0o644); err != nil {
		t.Fatalf("write fixture module: %v", err)
	}
	return dir
}
