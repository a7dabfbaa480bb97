//go:build e2e

package capture

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/artifact"
)

const page = `<!doctype html>
<html><body style="margin:0">
<h1 class="hero__title">Playwright enables reliable end-to-end testing</h1>
<div class="clock">12:00:01</div>
</body></html>`

func TestCapture_E2E(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	s, err := Launch(SessionConfig{Headless: true, Width: 320, Height: 200})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Goto(srv.URL))
	assert.Equal(t, "chromium", s.Renderer)

	shot, err := Screenshot(s.Page, Options{MaskSelectors: []string{".clock"}})
	require.NoError(t, err)
	assert.Equal(t, artifact.KindImage, shot.Kind)
	assert.Equal(t, 320, shot.Width)
	assert.Equal(t, 200, shot.Height)

	text, err := Text(s.Page, ".hero__title")
	require.NoError(t, err)
	assert.Equal(t, "Playwright enables reliable end-to-end testing", text.Text())
}
