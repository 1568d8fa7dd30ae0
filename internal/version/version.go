package version

// Build information, set with -ldflags "-X bond-screener/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
