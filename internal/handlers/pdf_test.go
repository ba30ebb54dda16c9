package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
	"pdfgen/internal/render"
)

func testCfg() config.Config {
	cfg := config.Default()
	cfg.PDF.Engine = config.EngineBasic
	cfg.PDF.DefaultFilename = "output"
	cfg.PDF.TimeoutSecs = 5
	cfg.Limits.MaxHTMLBytes = 64 * 1024
	return cfg
}

type renderFunc func(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error)

func (f renderFunc) Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	return f(ctx, html, setup)
}

func newTestApp(t *testing.T, cfg config.Config, r render.Renderer) *fiber.App {
	t.Helper()
	if r == nil {
		engine, err := render.New(cfg)
		require.NoError(t, err)
		r = engine
	}
	svc := NewPDFService(cfg, r)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/generate-pdf", svc.HandleGenerate)
	return app
}

func postJSON(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate-pdf", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestGenerate_ValidationFailures(t *testing.T) {
	app := newTestApp(t, testCfg(), nil)

	tests := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"missing html", `{"filename":"a.pdf"}`, fiber.StatusBadRequest, "No HTML content provided"},
		{"empty html", `{"html":""}`, fiber.StatusBadRequest, "No HTML content provided"},
		{"blank html", `{"html":"   \n"}`, fiber.StatusBadRequest, "No HTML content provided"},
		{"null html", `{"html":null}`, fiber.StatusBadRequest, "No HTML content provided"},
		{"numeric html", `{"html":42}`, fiber.StatusBadRequest, "html must be a string"},
		{"object html", `{"html":{"a":1}}`, fiber.StatusBadRequest, "html must be a string"},
		{"numeric filename", `{"html":"<p>x</p>","filename":7}`, fiber.StatusBadRequest, "filename must be a string"},
		{"array body", `["<p>x</p>"]`, fiber.StatusBadRequest, "Request body must be a JSON object"},
		{"empty body", ``, fiber.StatusBadRequest, "Request body must be a JSON object"},
		{"broken json", `{"html":`, fiber.StatusBadRequest, "Request body is not valid JSON"},
		{"options not object", `{"html":"<p>x</p>","options":"A4"}`, fiber.StatusBadRequest, "options must be an object"},
		{"unknown option", `{"html":"<p>x</p>","options":{"pagesize":"A4"}}`, fiber.StatusBadRequest, `Unknown option "pagesize"`},
		{"wrong option type", `{"html":"<p>x</p>","options":{"margin":"1cm"}}`, fiber.StatusBadRequest, "Invalid option margin: expected float64"},
		{"bad page size", `{"html":"<p>x</p>","options":{"page_size":"B0"}}`, fiber.StatusBadRequest, `Invalid page_size: "B0" is not supported`},
		{"bad orientation", `{"html":"<p>x</p>","options":{"orientation":"diagonal"}}`, fiber.StatusBadRequest, "Invalid orientation: must be 'portrait' or 'landscape'"},
		{"bad margin", `{"html":"<p>x</p>","options":{"margin":4.2}}`, fiber.StatusBadRequest, "Invalid margin: must be between 0.0 and 2.0 inches"},
		{"bad side margin", `{"html":"<p>x</p>","options":{"margin_left":-1}}`, fiber.StatusBadRequest, "Invalid margin_left: must be between 0.0 and 2.0 inches"},
		{"bad scale", `{"html":"<p>x</p>","options":{"scale":3}}`, fiber.StatusBadRequest, "Invalid scale: must be between 0.1 and 2.0"},
		{"html too large", `{"html":"` + strings.Repeat("x", 64*1024+1) + `"}`, fiber.StatusRequestEntityTooLarge, "HTML input exceeds 65536 bytes"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
			assert.Equal(t, tc.msg, decodeError(t, resp))
		})
	}
}

func TestGenerate_DefaultFilename(t *testing.T) {
	app := newTestApp(t, testCfg(), nil)

	resp := postJSON(t, app, `{"html":"<h1>Hello</h1><p>world</p>"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="output.pdf"`, resp.Header.Get("Content-Disposition"))

	body, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))
}

func TestGenerate_TimestampedDefaultFilename(t *testing.T) {
	cfg := testCfg()
	cfg.PDF.DefaultFilename = "report_{{.Timestamp}}"
	app := newTestApp(t, cfg, nil)

	resp := postJSON(t, app, `{"html":"<p>x</p>","filename":""}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="report_20260102_030405.pdf"`, resp.Header.Get("Content-Disposition"))
}

func TestGenerate_EchoesSanitizedFilename(t *testing.T) {
	app := newTestApp(t, testCfg(), nil)

	tests := map[string]string{
		"report.pdf":              "report.pdf",
		"report":                  "report.pdf",
		"../../secret report.pdf": "secret_report.pdf",
	}
	for in, want := range tests {
		body, _ := json.Marshal(map[string]any{"html": "<p>x</p>", "filename": in})
		resp := postJSON(t, app, string(body))
		require.Equal(t, fiber.StatusOK, resp.StatusCode, in)
		assert.Equal(t, `attachment; filename="`+want+`"`, resp.Header.Get("Content-Disposition"), in)
	}
}

func TestGenerate_TwoIdenticalCallsProduceValidPDFs(t *testing.T) {
	app := newTestApp(t, testCfg(), nil)
	body := `{"html":"<h1>Same</h1>","filename":"same.pdf","options":{"page_size":"letter","orientation":"landscape"}}`

	for i := 0; i < 2; i++ {
		resp := postJSON(t, app, body)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		pdf, _ := io.ReadAll(resp.Body)
		assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")), "call %d", i+1)
		assert.True(t, bytes.Contains(pdf, []byte("%%EOF")), "call %d", i+1)
	}
}

func TestGenerate_PassesResolvedSetupAndPreparedDocument(t *testing.T) {
	var (
		gotSetup domain.PageSetup
		gotHTML  string
	)
	r := renderFunc(func(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
		gotHTML, gotSetup = html, setup
		return []byte("%PDF-1.4 test"), nil
	})
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<p>hi</p><script>alert(1)</script>","options":{
		"page_size":"a5","orientation":"landscape","margin":1,"margin_top":0.5,
		"print_background":false,"scale":1.5}}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, "A5", gotSetup.PageSize)
	assert.True(t, gotSetup.Landscape)
	assert.Equal(t, 8.27, gotSetup.Width)
	assert.Equal(t, 5.83, gotSetup.Height)
	assert.Equal(t, domain.Margins{Top: 0.5, Right: 1, Bottom: 1, Left: 1}, gotSetup.Margins)
	assert.False(t, gotSetup.PrintBackground)
	assert.Equal(t, 1.5, gotSetup.Scale)

	assert.Contains(t, gotHTML, "<p>hi</p>")
	assert.NotContains(t, gotHTML, "<script")
	assert.Contains(t, gotHTML, "<style>")
}

func TestGenerate_DefaultSetup(t *testing.T) {
	var got domain.PageSetup
	r := renderFunc(func(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
		got = setup
		return []byte("%PDF-1.4"), nil
	})
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<p>x</p>","options":null}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "A4", got.PageSize)
	assert.False(t, got.Landscape)
	assert.Equal(t, 0.4, got.Margins.Top)
	assert.True(t, got.PrintBackground)
	assert.Equal(t, 1.0, got.Scale)
}

func TestGenerate_RenderFailureIsGeneric(t *testing.T) {
	r := render.NewBounded(fakeEngine(func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("weasel: malformed <table> at /tmp/secret")
	}), time.Second, 0)
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<table><tr>"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	msg := decodeError(t, resp)
	assert.Equal(t, "PDF generation failed", msg)
	assert.Empty(t, resp.Header.Get("Content-Disposition"))
}

func TestGenerate_RenderPanicIsGeneric(t *testing.T) {
	r := render.NewBounded(fakeEngine(func(ctx context.Context) ([]byte, error) {
		panic("nil map write")
	}), time.Second, 0)
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<p>x</p>"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "PDF generation failed", decodeError(t, resp))
}

func TestGenerate_RenderTimeout(t *testing.T) {
	r := render.NewBounded(fakeEngine(func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond, 0)
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<p>slow</p>"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "PDF generation timed out", decodeError(t, resp))
}

func TestGenerate_InvalidRendererOutput(t *testing.T) {
	r := render.NewBounded(fakeEngine(func(ctx context.Context) ([]byte, error) {
		return []byte("not a pdf"), nil
	}), time.Second, 0)
	app := newTestApp(t, testCfg(), r)

	resp := postJSON(t, app, `{"html":"<p>x</p>"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGenerate_FormEncoded(t *testing.T) {
	app := newTestApp(t, testCfg(), nil)

	form := url.Values{}
	form.Set("html", "<p>from a form</p>")
	form.Set("filename", "form.pdf")
	form.Set("options", `{"page_size":"LEGAL"}`)
	req := httptest.NewRequest(http.MethodPost, "/generate-pdf", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="form.pdf"`, resp.Header.Get("Content-Disposition"))

	bad := url.Values{}
	bad.Set("html", "<p>x</p>")
	bad.Set("options", `{"color":"red"}`)
	req = httptest.NewRequest(http.MethodPost, "/generate-pdf", strings.NewReader(bad.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

type fakeEngine func(ctx context.Context) ([]byte, error)

func (f fakeEngine) Name() string { return "fake" }
func (f fakeEngine) Ready() bool  { return true }
func (f fakeEngine) Close() error { return nil }
func (f fakeEngine) Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	return f(ctx)
}
