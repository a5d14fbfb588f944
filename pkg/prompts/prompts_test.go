package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompts_Default_Resolve(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	set, err := c.Resolve()
	require.NoError(t, err)
	assert.Contains(t, set.ExtractSystem, "extracted_column_name")
	assert.Contains(t, set.GenerateUser, "{{REFERENCES}}")
	assert.Contains(t, set.GenerateRetry, "{{FAILED_SQL}}")
}

func TestPrompts_Get(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte("a:\n  b:\n    c: \"  deep  \"\n  n: 3\ntop: hello\n"))
	require.NoError(t, err)

	assert.Equal(t, "deep", c.Get("a.b.c"))
	assert.Equal(t, "hello", c.Get("top"))
	assert.Equal(t, "", c.Get("a.missing"))
	assert.Equal(t, "", c.Get("a.n"))
	assert.Equal(t, "", c.Get("top.more"))

	_, err = c.Require("a.missing")
	require.ErrorContains(t, err, `"a.missing"`)
}

func TestPrompts_Parse_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("a: [unclosed"))
	require.Error(t, err)

	c, err := Parse(nil)
	require.NoError(t, err)
	_, err = c.Resolve()
	require.Error(t, err)
}

func TestPrompts_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: y\n"), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "y", c.Get("x"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
}

func TestPrompts_Render(t *testing.T) {
	t.Parallel()

	out := Render("Q: {{QUESTION}} / {{QUESTION}} / {{OTHER}}", map[string]string{"QUESTION": "revenue"})
	assert.Equal(t, "Q: revenue / revenue / {{OTHER}}", out)
}
