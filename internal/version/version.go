// ABOUTME: Build and product identification for the renderer
// ABOUTME: Reported in the mDNS advertisement, the user agent and the TUI header
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.3.0"

const (
	Product      = "Resonate Renderer"
	Manufacturer = "Resonate"
)

// UserAgent is sent on HTTP and HLS requests
func UserAgent() string {
	return "resonate-renderer/" + Version
}
