// Package version reports the build version stamped into the binary.
package version

import "runtime/debug"

// Version is set at link time with
// -ldflags "-X github.com/justin-pfeifer/ftl-lightspeed/internal/version.Version=1.2.3".
var Version = ""

// String returns the link-time version, falling back to the main module
// version from build info and finally to "dev".
func String() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}

// AppName is the session label attached to origin connections.
func AppName(label string) string {
	name := "FTL Lightspeed v" + String()
	if label != "" {
		name += " - " + label
	}
	return name
}
