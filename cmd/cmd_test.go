package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  development: false
  level: error
pool:
  concurrency: 1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "classify", "https://example.com/about.html", "--config", writeConfig(t))
	require.NoError(t, err)

	var verdict scrape.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	require.Equal(t, scrape.TierFast, verdict.Tier)
	require.NotEmpty(t, verdict.Reasons)
}

func TestClassifyCommandRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "classify", "--config", writeConfig(t))
	require.Error(t, err)
}

func TestSubmitCommandPrintsStatus(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Docs Home</title></head><body><main>
<h1>Docs Home</h1><p>Everything you need to get started with the product lives on this page and its children.</p>
</main></body></html>`))
	}))
	defer site.Close()

	out, err := execute(t, "submit", site.URL+"/docs", "--ignore-robots", "--timeout", "20s", "--config", writeConfig(t))
	require.NoError(t, err)

	var st scrape.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, scrape.JobStateCompleted, st.State)
	require.NotNil(t, st.Result)
	require.Equal(t, "Docs Home", st.Result.Title)
	require.Nil(t, st.Error)
}

func TestSubmitCommandRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "submit", "not a url", "--config", writeConfig(t))
	require.ErrorIs(t, err, scrape.ErrInvalidRequest)
}

func TestUnknownConfigFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "classify", "https://example.com", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}
