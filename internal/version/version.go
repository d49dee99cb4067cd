package version

// Build information set by ldflags
var (
	Version = "dev"     // -X github.com/autorthanc/autorthanc/internal/version.Version
	Commit  = "unknown" // -X github.com/autorthanc/autorthanc/internal/version.Commit
	Date    = "unknown" // -X github.com/autorthanc/autorthanc/internal/version.Date
)
