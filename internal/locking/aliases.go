package locking

import "strings"

var distributionAliases = map[string]string{
	"adoptium":     "temurin",
	"adoptopenjdk": "temurin",
	"amazon":       "corretto",
	"azul":         "zulu",
	"sap":          "sapmachine",
	"bellsoft":     "liberica",
	"ibm":          "semeru",
	"alibaba":      "dragonwell",
	"tencent":      "kona",
	"oracle":       "openjdk",
}

var osAliases = map[string]string{
	"darwin":  "macos",
	"mac":     "macos",
	"osx":     "macos",
	"win":     "windows",
	"win32":   "windows",
	"windows": "windows",
	"linux":   "linux",
}

var archAliases = map[string]string{
	"amd64":   "x64",
	"x86_64":  "x64",
	"x86-64":  "x64",
	"arm64":   "aarch64",
	"aarch64": "aarch64",
	"386":     "x86",
	"i386":    "x86",
	"i686":    "x86",
}

// ResolveCoordinate trims and lower-cases every field of c and maps well
// known aliases (vendor names, GOOS/GOARCH spellings) onto the names used
// in lock keys. Unknown values pass through unchanged.
func ResolveCoordinate(c Coordinate) Coordinate {
	return Coordinate{
		Distribution: resolveAlias(distributionAliases, c.Distribution),
		Version:      strings.TrimSpace(c.Version),
		OS:           resolveAlias(osAliases, c.OS),
		Arch:         resolveAlias(archAliases, c.Arch),
	}
}

func resolveAlias(aliases map[string]string, v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if canonical, ok := aliases[v]; ok {
		return canonical
	}
	return v
}
