package store

import (
	"path"
	"strings"
)

// Sidecar suffixes for the three subtitle artifact flavors
const (
	SidecarSingle     = ".vtt"
	SidecarOriginal   = ".orig.vtt"
	SidecarTranslated = ".trans.vtt"
)

// StableURI canonicalizes an upstream segment URI into the key used
// throughout the pipeline: any `./` or `../` prefixes are stripped, the file
// extension is forced to `.ts` and the result is rooted with `/`. Upstream
// sometimes serves segments under relative paths with varying extensions, so
// a canonical key makes dedup trivial. The function is idempotent.
func StableURI(upstreamURI string) string {
	s := upstreamURI
	for {
		if strings.HasPrefix(s, "./") {
			s = s[len("./"):]
			continue
		}
		if strings.HasPrefix(s, "../") {
			s = s[len("../"):]
			continue
		}
		break
	}
	s = strings.TrimPrefix(s, "/")
	if ext := path.Ext(s); ext != "" {
		s = s[:len(s)-len(ext)]
	}
	return "/" + s + ".ts"
}

// SidecarURI derives a subtitle sidecar key from a stable segment URI
func SidecarURI(stableURI, suffix string) string {
	return strings.TrimSuffix(stableURI, ".ts") + suffix
}
