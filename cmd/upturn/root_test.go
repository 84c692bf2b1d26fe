package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lgulliver/upturn/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the CLI against a temporary blob folder and ledger
func executeCommand(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{
		"--images", filepath.Join(dir, "images"),
		"--db", filepath.Join(dir, "upturn.db"),
	}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func servePNG(t *testing.T, w, h int) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		rw.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchShowList(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	server := servePNG(t, 400, 300)

	out, err := executeCommand(t, dir, "fetch", server.URL+"/img.png")
	require.NoError(t, err)
	ref := strings.TrimSpace(out)
	assert.True(t, strings.HasSuffix(ref, ".png"), ref)

	outPath := filepath.Join(dir, "shown.png")
	out, err = executeCommand(t, dir, "show", ref, "--width", "150", "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "400x300 -> 200x150 (sample factor 2, rotated true)")

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 150, cfg.Height)

	out, err = executeCommand(t, dir, "list")
	require.NoError(t, err)
	assert.Equal(t, ref+"\n", out)

	out, err = executeCommand(t, dir, "list", "--history")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, ref)

	out, err = executeCommand(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded: 1")
	assert.Contains(t, out, "failed: 0")

	out, err = executeCommand(t, dir, "verify", ref)
	require.NoError(t, err)
	assert.Contains(t, out, ref+": ok")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", ref), []byte("tampered"), 0644))
	_, err = executeCommand(t, dir, "verify", ref)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestFetch_Failure(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	server := servePNG(t, 4, 4)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "http error", url: server.URL + "/missing.png", want: "http status 404"},
		{name: "invalid url", url: "not a url", want: "invalid_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, dir, "fetch", tt.url)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	out, err := executeCommand(t, dir, "list")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = executeCommand(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "failed: 2")
}

func TestShow_Missing(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()

	_, err := executeCommand(t, dir, "show", "missing.png", "--out", filepath.Join(dir, "x.png"))
	assert.ErrorContains(t, err, "blob not found")
}

func TestShow_RequiresRef(t *testing.T) {
	_, err := executeCommand(t, t.TempDir(), "show")
	assert.Error(t, err)
}

func TestKeygen(t *testing.T) {
	out, err := executeCommand(t, t.TempDir(), "keygen")
	require.NoError(t, err)
	assert.True(t, auth.ValidateAPIKeyFormat(strings.TrimSpace(out)), out)
}
