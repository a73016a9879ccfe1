package version

import "runtime"

var (
	Version    = "0.1"
	GitHash    = "devXXXX"
	BuildTS    = "2026-10-19T00:00:00Z" // to be replaced at build time
	APIVersion = "1.0"
	Name       = "thermald"
	Agent      = Name + "/" + Version
	Branch     = "main"
)

type VersionConfig struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	GitHash    string `json:"GitHash"`
	BuildTS    string `json:"BuildTS"`
	APIVersion string `json:"APIVersion"`
	Agent      string `json:"Agent"`
	Branch     string `json:"Branch"`
	GoVersion  string `json:"GoVersion"`
	Platform   string `json:"Platform"`
}

// GetVersionConfig is built on each call so -ldflags -X overrides show up.
func GetVersionConfig() VersionConfig {
	return VersionConfig{
		Name:       Name,
		Version:    Version,
		GitHash:    GitHash,
		BuildTS:    BuildTS,
		APIVersion: APIVersion,
		Agent:      Agent,
		Branch:     Branch,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
