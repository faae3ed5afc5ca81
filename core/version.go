package core

import (
	"strings"

	"github.com/flarco/g"
)

// Version is the version number, set at build time
var Version = "dev"

func init() {
	// dev build version is in format => 1.2.2.dev/2024-08-20
	parts := strings.Split(Version, "/")
	if len(parts) != 2 {
		return
	}
	Version = g.F("%s (%s)", parts[0], parts[1])
}
