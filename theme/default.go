package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the application
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Domain colours
	Account        pterm.Color
	Proxy          pterm.Color
	Counts         pterm.Color
	Numbers        pterm.Color
	Alert          pterm.Color
	ProxyHealthy   pterm.Color
	ProxyCooling   pterm.Color
	ProxyUnhealthy pterm.Color
	ProxyUnknown   pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Account:        pterm.FgCyan,
		Proxy:          pterm.FgBlue,
		Counts:         pterm.FgLightMagenta,
		Numbers:        pterm.FgLightYellow,
		Alert:          pterm.FgLightRed,
		ProxyHealthy:   pterm.FgGreen,
		ProxyCooling:   pterm.FgYellow,
		ProxyUnhealthy: pterm.FgRed,
		ProxyUnknown:   pterm.FgGray,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Warn = pterm.NewStyle(pterm.FgLightYellow, pterm.Bold)
	t.Error = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	t.Account = pterm.FgLightCyan
	t.Proxy = pterm.FgLightBlue
	t.ProxyHealthy = pterm.FgLightGreen
	t.ProxyUnhealthy = pterm.FgLightRed
	return t
}

// Light returns a light theme variant
func Light() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgBlack)
	t.Warn = pterm.NewStyle(pterm.FgRed, pterm.Bold)
	t.Account = pterm.FgBlue
	t.Counts = pterm.FgMagenta
	t.Numbers = pterm.FgYellow
	return t
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}

// ColourSplash Colours for the splash screen
func ColourSplash(message ...any) string {
	return pterm.LightCyan(message...)
}

// ColourVersion Colours Version numbers, used for the splash screen
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl Colours for URLs and hyperlinks
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink creates a hyperlink in the terminal
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\x1b[0m"
}
