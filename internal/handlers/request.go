package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
)

const (
	minMargin = 0.0
	maxMargin = 2.0
	minScale  = 0.1
	maxScale  = 2.0
)

// rawGenerationRequest keeps fields undecoded so their JSON types can be
// checked individually.
type rawGenerationRequest struct {
	HTML     json.RawMessage `json:"html"`
	Filename json.RawMessage `json:"filename"`
	Options  json.RawMessage `json:"options"`
}

// parseJSONRequest validates a JSON request body.
func parseJSONRequest(body []byte, cfg config.Config, now time.Time) (*domain.GenerationRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, domain.Invalid("Request body must be a JSON object")
	}
	var raw rawGenerationRequest
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, domain.Invalid("Request body is not valid JSON")
	}

	html, err := decodeString(raw.HTML, "html")
	if err != nil {
		return nil, err
	}
	filename, err := decodeString(raw.Filename, "filename")
	if err != nil {
		return nil, err
	}
	opts, err := decodeOptions(raw.Options)
	if err != nil {
		return nil, err
	}
	return buildRequest(html, filename, opts, cfg, now)
}

// parseFormRequest validates a form-encoded or multipart request. options,
// when present, is a JSON object encoded as a string.
func parseFormRequest(html, filename, options string, cfg config.Config, now time.Time) (*domain.GenerationRequest, error) {
	var raw json.RawMessage
	if strings.TrimSpace(options) != "" {
		raw = json.RawMessage(options)
	}
	opts, err := decodeOptions(raw)
	if err != nil {
		return nil, err
	}
	return buildRequest(html, filename, opts, cfg, now)
}

func buildRequest(html, filename string, opts domain.PageOptions, cfg config.Config, now time.Time) (*domain.GenerationRequest, error) {
	if strings.TrimSpace(html) == "" {
		return nil, domain.Invalid("No HTML content provided")
	}
	if len(html) > cfg.Limits.MaxHTMLBytes {
		return nil, domain.TooLarge("HTML input exceeds %d bytes", cfg.Limits.MaxHTMLBytes)
	}

	setup, err := resolveSetup(opts, cfg)
	if err != nil {
		return nil, err
	}

	fallback := domain.DefaultFilename(cfg.PDF.DefaultFilename, now)
	return &domain.GenerationRequest{
		HTML:     html,
		Filename: domain.SanitizeFilename(filename, fallback),
		Setup:    setup,
	}, nil
}

// decodeString accepts an absent or null field as "" and rejects any
// non-string JSON value.
func decodeString(raw json.RawMessage, field string) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", domain.Invalid("%s must be a string", field)
	}
	return s, nil
}

func decodeOptions(raw json.RawMessage) (domain.PageOptions, error) {
	var opts domain.PageOptions
	if isNull(raw) {
		return opts, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return opts, domain.Invalid("options must be an object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return opts, domain.Invalid("Invalid option %s: expected %s", typeErr.Field, typeErr.Type.String())
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return opts, domain.Invalid("Unknown option %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return opts, domain.Invalid("options is not valid JSON")
		}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return opts, domain.Invalid("options is not valid JSON")
	}
	return opts, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// resolveSetup applies defaults from cfg and checks every option.
func resolveSetup(opts domain.PageOptions, cfg config.Config) (domain.PageSetup, error) {
	var setup domain.PageSetup

	name := cfg.PDF.DefaultPaper
	if opts.PageSize != nil && strings.TrimSpace(*opts.PageSize) != "" {
		name = strings.ToUpper(strings.TrimSpace(*opts.PageSize))
		if _, ok := cfg.PDF.PaperSizes[name]; !ok {
			return setup, domain.Invalid("Invalid page_size: %q is not supported", *opts.PageSize)
		}
	}
	paper, ok := cfg.PDF.PaperSizes[name]
	if !ok {
		return setup, errors.New("default paper size not configured")
	}
	setup.PageSize = name
	setup.Width, setup.Height = paper.Width, paper.Height

	if opts.Orientation != nil && *opts.Orientation != "" {
		switch strings.ToLower(*opts.Orientation) {
		case domain.OrientationPortrait:
		case domain.OrientationLandscape:
			setup.Landscape = true
			setup.Width, setup.Height = setup.Height, setup.Width
		default:
			return setup, domain.Invalid("Invalid orientation: must be 'portrait' or 'landscape'")
		}
	}

	margin := cfg.PDF.DefaultMargin
	if opts.Margin != nil {
		if err := checkMargin("margin", *opts.Margin); err != nil {
			return setup, err
		}
		margin = *opts.Margin
	}
	setup.Margins = domain.Margins{Top: margin, Right: margin, Bottom: margin, Left: margin}
	sides := []struct {
		name string
		v    *float64
		dst  *float64
	}{
		{"margin_top", opts.MarginTop, &setup.Margins.Top},
		{"margin_right", opts.MarginRight, &setup.Margins.Right},
		{"margin_bottom", opts.MarginBottom, &setup.Margins.Bottom},
		{"margin_left", opts.MarginLeft, &setup.Margins.Left},
	}
	for _, s := range sides {
		if s.v == nil {
			continue
		}
		if err := checkMargin(s.name, *s.v); err != nil {
			return setup, err
		}
		*s.dst = *s.v
	}
	if setup.Margins.Left+setup.Margins.Right >= setup.Width || setup.Margins.Top+setup.Margins.Bottom >= setup.Height {
		return setup, domain.Invalid("Invalid margins: no printable area left on %s page", setup.PageSize)
	}

	setup.PrintBackground = true
	if opts.PrintBackground != nil {
		setup.PrintBackground = *opts.PrintBackground
	}

	setup.Scale = 1
	if opts.Scale != nil {
		if *opts.Scale < minScale || *opts.Scale > maxScale {
			return setup, domain.Invalid("Invalid scale: must be between %.1f and %.1f", minScale, maxScale)
		}
		setup.Scale = *opts.Scale
	}
	return setup, nil
}

func checkMargin(name string, v float64) error {
	if v < minMargin || v > maxMargin {
		return domain.Invalid("Invalid %s: must be between %.1f and %.1f inches", name, minMargin, maxMargin)
	}
	return nil
}
