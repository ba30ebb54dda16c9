package domain

// Orientation values accepted in PageOptions.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// GenerationRequest is one validated conversion request.
type GenerationRequest struct {
	HTML     string
	Filename string
	Setup    PageSetup
}

// PageOptions is the closed set of layout options a caller may send.
// Nil fields fall back to configured defaults.
type PageOptions struct {
	PageSize        *string  `json:"page_size"`
	Orientation     *string  `json:"orientation"`
	Margin          *float64 `json:"margin"`
	MarginTop       *float64 `json:"margin_top"`
	MarginRight     *float64 `json:"margin_right"`
	MarginBottom    *float64 `json:"margin_bottom"`
	MarginLeft      *float64 `json:"margin_left"`
	PrintBackground *bool    `json:"print_background"`
	Scale           *float64 `json:"scale"`
}

// Margins are page margins in inches.
type Margins struct {
	Top, Right, Bottom, Left float64
}

// PageSetup is the resolved page layout handed to a renderer. Width and
// Height are in inches and already reflect the orientation.
type PageSetup struct {
	PageSize        string
	Width           float64
	Height          float64
	Landscape       bool
	Margins         Margins
	PrintBackground bool
	Scale           float64
}
