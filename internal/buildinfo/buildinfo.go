package buildinfo

import "time"

// Set via -ldflags at build time
var (
	BuildTime  string // when the binary was compiled
	CommitTime string // last git commit time (last code edit)
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Fields is the build metadata reported by the health endpoint. Unset
// ldflags values are reported as "dev".
func Fields() map[string]string {
	orDev := func(s string) string {
		if s == "" {
			return "dev"
		}
		return s
	}
	return map[string]string{
		"buildTime":  orDev(BuildTime),
		"commitTime": orDev(CommitTime),
		"commitHash": orDev(CommitHash),
		"startTime":  StartTime,
	}
}
