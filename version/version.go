package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info contains version information
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Package string `json:"package"`
}

func stamped(v, unset string) bool {
	return v != unset && v != ""
}

func buildSetting(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}

// GetVersion returns the stamped version, then the module version, then
// "development".
func GetVersion() string {
	if stamped(Version, "dev") {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "development"
}

func GetCommit() string {
	if stamped(Commit, "unknown") {
		return Commit
	}
	if rev, ok := buildSetting("vcs.revision"); ok {
		return rev
	}
	return "unknown"
}

func GetBuildDate() string {
	if stamped(Date, "unknown") {
		return Date
	}
	if at, ok := buildSetting("vcs.time"); ok {
		return at
	}
	return "unknown"
}

// IsRelease reports whether Version was stamped at link time.
func IsRelease() bool {
	return stamped(Version, "dev")
}

func GetInfo() Info {
	return Info{
		Version: GetVersion(),
		Commit:  GetCommit(),
		Date:    GetBuildDate(),
		Package: "asarfs",
	}
}

// GetFullVersion returns the version with the short commit and build date
// when they are known.
func GetFullVersion() string {
	return formatVersion(GetInfo())
}

func formatVersion(info Info) string {
	if info.Commit == "unknown" || len(info.Commit) <= 7 {
		return info.Version
	}
	shortCommit := info.Commit[:7]
	if info.Date != "unknown" {
		return fmt.Sprintf("%s (%s, built %s)", info.Version, shortCommit, info.Date)
	}
	return fmt.Sprintf("%s (%s)", info.Version, shortCommit)
}
