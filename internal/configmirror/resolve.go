package configmirror

// ResolveTimeoutMs returns the service's override timeout if set, else the
// gateway-wide default. Mirrors internal/config/manager.go's "only replace
// when the override field is non-zero" rule.
func (s ServiceConfig) ResolveTimeoutMs(gatewayDefaultMs int) int {
	if s.Overrides.TimeoutMs > 0 {
		return s.Overrides.TimeoutMs
	}
	return gatewayDefaultMs
}

// ResolveBreaker merges the service's breaker override over the
// gateway-wide breaker defaults, field by field.
func (s ServiceConfig) ResolveBreaker(defaultThreshold, defaultHalfOpenMs, defaultMinRttMs int) (threshold, halfOpenMs, minRttMs int) {
	threshold, halfOpenMs, minRttMs = defaultThreshold, defaultHalfOpenMs, defaultMinRttMs
	if b := s.Overrides.Breaker; b != nil {
		if b.FailureThreshold > 0 {
			threshold = b.FailureThreshold
		}
		if b.HalfOpenAfterMs > 0 {
			halfOpenMs = b.HalfOpenAfterMs
		}
		if b.MinRttMs > 0 {
			minRttMs = b.MinRttMs
		}
	}
	return
}

// ResolveAlias returns the route alias for restPath if one is configured,
// else restPath unchanged.
func (s ServiceConfig) ResolveAlias(restPath string) string {
	if s.Overrides.RouteAliases == nil {
		return restPath
	}
	if alias, ok := s.Overrides.RouteAliases[restPath]; ok {
		return alias
	}
	return restPath
}

// MatchRule finds the first matching RouteRule for (method,path): exact
// segments outrank :param, both outrank a trailing *. Ties break on
// higher exact-match count, then first match.
func (p Policy) MatchRule(method, path string) (RouteRule, bool) {
	reqSegs := splitPath(path)

	best := -1
	bestScore := -1
	bestExact := -1
	for i, rule := range p.Rules {
		if !methodMatches(rule.Method, method) {
			continue
		}
		score, exact, ok := scoreMatch(splitPath(rule.Path), reqSegs)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && exact > bestExact) {
			best, bestScore, bestExact = i, score, exact
		}
	}
	if best < 0 {
		return RouteRule{}, false
	}
	return p.Rules[best], true
}

func methodMatches(ruleMethod, reqMethod string) bool {
	return ruleMethod == "" || ruleMethod == "*" || equalFold(ruleMethod, reqMethod)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// scoreMatch reports whether ruleSegs matches reqSegs (honoring a trailing
// "*" wildcard and ":param" segments), the number of exact segment matches,
// and a tie-break-friendly specificity score (2 per exact segment, 1 per
// param segment, 0 contribution for the wildcard tail).
func scoreMatch(ruleSegs, reqSegs []string) (score, exact int, ok bool) {
	for i, rs := range ruleSegs {
		if rs == "*" {
			return score, exact, true // trailing wildcard matches the rest
		}
		if i >= len(reqSegs) {
			return 0, 0, false
		}
		if isParam(rs) {
			score++
			continue
		}
		if rs != reqSegs[i] {
			return 0, 0, false
		}
		score += 2
		exact++
	}
	if len(ruleSegs) != len(reqSegs) {
		return 0, 0, false
	}
	return score, exact, true
}

func isParam(seg string) bool {
	return len(seg) > 0 && seg[0] == ':'
}
