package envid

import (
	"regexp"
	"strings"
)

var versionSuffix = regexp.MustCompile(`-v[0-9]+$`)

// Normalize canonicalizes environment identifiers and their common aliases,
// so "AntMaze_UMaze-v4", "antmaze umaze" and "antmaze-umaze" resolve alike.
func Normalize(id string) string {
	normalized := strings.TrimSpace(strings.ToLower(id))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalEnvironment(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

func aliasCandidates(normalized string) []string {
	candidates := []string{normalized}
	unversioned := versionSuffix.ReplaceAllString(normalized, "")
	if unversioned != "" && unversioned != normalized {
		candidates = append(candidates, unversioned)
	}
	for _, prefix := range []string{"gymnasium-robotics-", "env-"} {
		if trimmed := strings.TrimPrefix(unversioned, prefix); trimmed != unversioned && trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}
	return candidates
}

func canonicalEnvironment(alias string) (string, bool) {
	switch strings.ReplaceAll(alias, "-", "") {
	case "antmazeumaze", "antmaze":
		return "antmaze-umaze", true
	case "fetchpush", "push":
		return "fetch-push", true
	case "adroithandrelocate", "adroitrelocate", "relocate":
		return "adroit-hand-relocate", true
	default:
		return "", false
	}
}
