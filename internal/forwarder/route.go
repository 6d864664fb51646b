// Package forwarder parses the versioned /api/:slug.V<d>/* route, resolves
// the target ServiceConfig via the configmirror, mints an S2S bearer,
// forwards the request, and normalizes the response.
package forwarder

import (
	"fmt"
	"strings"
)

// Route is the parsed request target.
type Route struct {
	Slug         string
	VersionLabel string // normalized to "V<n>" ("v2" in the path becomes "V2")
	Version      int
	RestPath     string
}

// ParseRoute parses "/api/<slug>.V<digit>/<restPath...>", accepting
// V<digit>/v<digit> and rejecting a bare digit.
func ParseRoute(path string) (Route, error) {
	trimmed := strings.TrimPrefix(path, "/api/")
	if trimmed == path {
		return Route{}, fmt.Errorf("malformed-route: missing /api/ prefix")
	}

	slashIdx := strings.IndexByte(trimmed, '/')
	var head, rest string
	if slashIdx < 0 {
		head, rest = trimmed, ""
	} else {
		head, rest = trimmed[:slashIdx], trimmed[slashIdx+1:]
	}

	dotIdx := strings.LastIndexByte(head, '.')
	if dotIdx < 0 {
		return Route{}, fmt.Errorf("malformed-route: missing version label in %q", head)
	}
	slug, versionLabel := head[:dotIdx], head[dotIdx+1:]
	if slug == "" {
		return Route{}, fmt.Errorf("malformed-route: empty slug")
	}

	version, err := normalizeVersion(versionLabel)
	if err != nil {
		return Route{}, err
	}

	return Route{
		Slug:         strings.ToLower(slug),
		VersionLabel: normalizedLabel(version),
		Version:      version,
		RestPath:     rest,
	}, nil
}

// normalizeVersion accepts "V<digit>" or "v<digit>" and rejects a bare
// digit.
func normalizeVersion(label string) (int, error) {
	if len(label) < 2 {
		return 0, fmt.Errorf("malformed-route: invalid version label %q", label)
	}
	lead := label[0]
	if lead != 'V' && lead != 'v' {
		return 0, fmt.Errorf("malformed-route: invalid version label %q", label)
	}
	digits := label[1:]
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed-route: invalid version label %q", label)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func normalizedLabel(version int) string {
	return fmt.Sprintf("V%d", version)
}
