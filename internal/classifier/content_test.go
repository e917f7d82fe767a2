package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRendering(t *testing.T) {
	t.Parallel()

	require.True(t, NeedsRendering(nil))
	require.True(t, NeedsRendering([]byte(`<html><body><div id="root"></div></body></html>`)))
	require.True(t, NeedsRendering([]byte(`<html><script>`+strings.Repeat("x", 400)+`</script><p>hi</p></html>`)))

	article := "<html><head><title>Post</title></head><body><article>" +
		strings.Repeat("<p>Plain server-rendered paragraph.</p>", 100) + "</article></body></html>"
	require.False(t, NeedsRendering([]byte(article)))
}

func TestBlockSignature(t *testing.T) {
	t.Parallel()

	sig, ok := BlockSignature("Just a moment...", "")
	require.True(t, ok)
	require.Contains(t, sig, "just a moment")

	sig, ok = BlockSignature("Shop", `<div id="cf-browser-verification"></div>`)
	require.True(t, ok)
	require.Contains(t, sig, "cf-browser-verification")

	_, ok = BlockSignature("Welcome", "<p>Our access policy is generous.</p>")
	require.False(t, ok)
}
