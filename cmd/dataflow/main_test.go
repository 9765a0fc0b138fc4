package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalog = `[
	{"name":"lineItemsBuilder","consumes":["order"],"produces":"lineItems"},
	{"name":"defaultTaxBuilder","consumes":["lineItems"],"produces":"tax"},
	{"name":"totalBuilder","consumes":["lineItems","tax"],"produces":"totalAmount"}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out

	err := root.Run(context.Background(), append([]string{"dataflow"}, args...))

	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "order-total.json",
		`{"name":"order-total","targetData":"totalAmount","resolutionSpecs":{"tax":"defaultTaxBuilder"}}`)
	invalid := writeFile(t, dir, "broken.json", `{"name":"broken"}`)

	out, err := runCLI(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "✅ VALID: order-total -> totalAmount")

	out, err = runCLI(t, "validate", valid, invalid)
	require.ErrorIs(t, err, ErrInvalidDataFlows)
	assert.Contains(t, out, "Invalid dataflows: 1")
}

func TestValidateCommand_WithCatalog(t *testing.T) {
	dir := t.TempDir()
	builders := writeFile(t, dir, "builders.json", catalog)
	resolvable := writeFile(t, dir, "order-total.json",
		`{"name":"order-total","targetData":"totalAmount","resolutionSpecs":{"tax":"defaultTaxBuilder"}}`)
	unresolvable := writeFile(t, dir, "order-vat.json",
		`{"name":"order-vat","targetData":"totalAmount","resolutionSpecs":{"tax":"vatBuilder"}}`)

	out, err := runCLI(t, "validate", "--builder-catalog", builders, resolvable)
	require.NoError(t, err, out)

	out, err = runCLI(t, "validate", "--builder-catalog", builders, unresolvable)
	require.ErrorIs(t, err, ErrInvalidDataFlows)
	assert.Contains(t, out, "vatBuilder")
}

func TestImportAndListCommands(t *testing.T) {
	dir := t.TempDir()
	store := t.TempDir()
	definition := writeFile(t, dir, "order-total.json", `{
		"name":"order-total","targetData":"totalAmount",
		"resolutionSpecs":{"tax":"defaultTaxBuilder"},"transients":["lineItems"]
	}`)

	out, err := runCLI(t, "import", "--database-url", store, definition)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported order-total")

	out, err = runCLI(t, "list", "--database-url", store)
	require.NoError(t, err)
	assert.Contains(t, out, "Dataflow: order-total")
	assert.Contains(t, out, "  - tax: defaultTaxBuilder")
	assert.Contains(t, out, "Transients: lineItems")
	assert.Contains(t, out, "Total dataflows: 1")
}
