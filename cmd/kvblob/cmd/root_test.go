package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	src := "file://" + filepath.ToSlash(filepath.Join(dir, "src"))
	dst := "file://" + filepath.ToSlash(filepath.Join(dir, "dst"))

	_, err := run(t, "\x01\x02\x03", "put", src, "a/one")
	require.NoError(t, err)
	_, err = run(t, "two", "put", src, "a/two")
	require.NoError(t, err)

	out, err := run(t, "", "cat", src, "a/one")
	require.NoError(t, err)
	assert.Equal(t, "\x01\x02\x03", out)

	out, err = run(t, "", "verify", src, "a/one", "--algorithm", "md5", "--digest", "5289df737df57326fcdd22597afb1fac")
	require.NoError(t, err)
	assert.Contains(t, out, "a/one: OK")

	_, err = run(t, "", "verify", src, "a/two", "--algorithm", "md5", "--digest", "5289df737df57326fcdd22597afb1fac")
	assert.ErrorIs(t, err, errDigestMismatch)

	_, err = run(t, "", "cp", src, dst)
	require.NoError(t, err)

	_, err = run(t, "", "mv", dst, "a/two", "b/two")
	require.NoError(t, err)
	_, err = run(t, "", "rm", dst, "a/one")
	require.NoError(t, err)

	out, err = run(t, "", "ls", dst)
	require.NoError(t, err)
	assert.Equal(t, "b/two\n", out)

	_, err = run(t, "", "ls", "ftp://nowhere")
	assert.Error(t, err)
}

func TestCommands_PushPullCompressed(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DOCKER_CONFIG", t.TempDir())
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	ref := strings.TrimPrefix(srv.URL, "http://") + "/kvblob/cli:v1"

	dir := t.TempDir()
	src := "file://" + filepath.ToSlash(filepath.Join(dir, "src"))
	dst := "file://" + filepath.ToSlash(filepath.Join(dir, "dst"))

	_, err := run(t, strings.Repeat("layer ", 256), "put", src, "k", "--compression", "3")
	require.NoError(t, err)
	_, err = run(t, "", "push", src, ref, "--compression", "3")
	require.NoError(t, err)

	_, err = run(t, "", "pull", ref, dst, "--compression", "0")
	require.NoError(t, err)
	out, err := run(t, "", "cat", dst, "k", "--compression", "0")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("layer ", 256), out)
}
