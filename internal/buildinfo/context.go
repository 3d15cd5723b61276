// Package buildinfo carries build-time metadata injected with -ldflags, kept
// apart from user configuration.
package buildinfo

import "fmt"

// UnknownValue stands in for metadata the build did not provide
const UnknownValue = "unknown"

// Set at build time:
//
//	go build -ldflags "-X .../internal/buildinfo.version=1.2.0 -X .../internal/buildinfo.buildDate=2026-05-04"
var (
	version   string
	buildDate string
)

// Context contains build-time metadata that is not user-configurable
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext creates a Context
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// Current returns the metadata linked into this binary
func Current() *Context {
	return NewContext(version, buildDate)
}

// GetVersion returns the version, or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date, or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// UserAgent is sent to the backend when none is configured
func (c *Context) UserAgent() string {
	if c == nil || c.Version == "" {
		return "safedrive-agent/dev"
	}
	return "safedrive-agent/" + c.Version
}

// Release names the build for error reports
func (c *Context) Release() string {
	return "safedrive@" + c.GetVersion()
}

func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.GetVersion(), c.GetBuildDate())
}
