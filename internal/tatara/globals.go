package tatara

import (
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	Verbose    bool
	ConfigFile = "tatara.conf"
	version    = "dev"     //default version; overridden at build time
	buildDate  = "unknown" // overridden at build time
	arch       = runtime.GOARCH
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
