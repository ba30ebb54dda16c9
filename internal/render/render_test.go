package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
)

type fakeEngine struct {
	render func(ctx context.Context) ([]byte, error)
	closed bool
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Ready() bool  { return !f.closed }
func (f *fakeEngine) Close() error { f.closed = true; return nil }
func (f *fakeEngine) Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	return f.render(ctx)
}

func a4() domain.PageSetup {
	return domain.PageSetup{
		PageSize: "A4", Width: 8.27, Height: 11.69,
		Margins:         domain.Margins{Top: 0.4, Right: 0.4, Bottom: 0.4, Left: 0.4},
		PrintBackground: true, Scale: 1,
	}
}

func TestBounded_PassesValidPDF(t *testing.T) {
	b := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		return []byte("%PDF-1.7 fake"), nil
	}}, time.Second, 1024)

	buf, err := b.Render(context.Background(), "<p>x</p>", a4())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(buf))
	assert.Equal(t, "fake", b.Name())
	assert.True(t, b.Ready())
	require.NoError(t, b.Close())
	assert.False(t, b.Ready())
}

func TestBounded_TimesOutUncooperativeEngine(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	b := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		<-release // ignores ctx
		return []byte("%PDF-late"), nil
	}}, 20*time.Millisecond, 0)

	start := time.Now()
	_, err := b.Render(context.Background(), "<p>x</p>", a4())
	assert.Less(t, time.Since(start), time.Second)

	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Timeout())
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestBounded_TimeoutFromCooperativeEngine(t *testing.T) {
	b := NewBounded(&fakeEngine{render: func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, 10*time.Millisecond, 0)

	_, err := b.Render(context.Background(), "", a4())
	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Timeout())
}

func TestBounded_WrapsEngineErrors(t *testing.T) {
	cause := errors.New("malformed document")
	b := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		return nil, cause
	}}, time.Second, 0)

	_, err := b.Render(context.Background(), "", a4())
	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Timeout())
	assert.ErrorIs(t, err, cause)
}

func TestBounded_RecoversPanics(t *testing.T) {
	b := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		panic("library fault")
	}}, time.Second, 0)

	_, err := b.Render(context.Background(), "", a4())
	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "library fault")
}

func TestBounded_RejectsNonPDFAndOversized(t *testing.T) {
	notPDF := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		return []byte("<html>"), nil
	}}, time.Second, 0)
	_, err := notPDF.Render(context.Background(), "", a4())
	assert.ErrorIs(t, err, domain.ErrInvalidPDF)

	big := NewBounded(&fakeEngine{render: func(context.Context) ([]byte, error) {
		return []byte("%PDF-" + strings.Repeat("x", 100)), nil
	}}, time.Second, 10)
	_, err = big.Render(context.Background(), "", a4())
	assert.ErrorIs(t, err, domain.ErrPDFTooLarge)
}

func TestBounded_CallerCancellationIsNotTimeout(t *testing.T) {
	b := NewBounded(&fakeEngine{render: func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Render(ctx, "", a4())
	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Timeout())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_SelectsEngine(t *testing.T) {
	cfg := config.Default()
	cfg.PDF.Engine = config.EngineBasic
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.EngineBasic, e.Name())
	assert.True(t, e.Ready())

	cfg.PDF.Engine = config.EngineChrome
	cfg.PDF.ChromePath = "/definitely/missing/chrome"
	e, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.EngineChrome, e.Name())
	assert.False(t, e.Ready())

	cfg.PDF.Engine = "typewriter"
	_, err = New(cfg)
	assert.Error(t, err)
}
