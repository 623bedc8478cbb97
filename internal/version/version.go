package version

// Overridden at build time via -ldflags.
var (
	version   = "v0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

func Version() string   { return version }
func Commit() string    { return commit }
func BuildDate() string { return buildDate }
