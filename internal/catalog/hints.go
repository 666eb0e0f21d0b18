package catalog

import (
	"regexp"
	"strings"
)

// Hint is a configuration problem detected for a server: either a
// requirement the server declared through its handshake capability that the
// profile does not satisfy, or a problem inferred from captured stderr.
type Hint struct {
	Kind    string `json:"kind"` // missing_credential, missing_env, missing_package
	Detail  string `json:"detail"`
	RawLine string `json:"raw_line"`
}

var (
	credentialPattern = regexp.MustCompile(`(?i)(missing|invalid|no)\s+(api[ _-]?key|token|credential|secret)`)
	envVarPattern     = regexp.MustCompile(`(?i)(?:environment variable|env var)\s+([A-Z][A-Z0-9_]+)\s+(?:is )?(?:required|not set|missing)`)
	envVarSetPattern  = regexp.MustCompile(`(?i)(?:please )?set\s+(?:the )?([A-Z][A-Z0-9_]{2,})\b`)
	packagePattern    = regexp.MustCompile(`(?i)(?:package|module|command)\s+(?:['"]?([\w./@-]+)['"]?\s+)?not found`)
	unauthorized      = regexp.MustCompile(`(?i)\b(401|unauthorized|unauthenticated|forbidden)\b`)
)

// ScanStderr extracts configuration hints from captured stderr lines. Later
// lines win; duplicates by kind+detail are collapsed.
func ScanStderr(lines []string) []Hint {
	seen := make(map[string]bool)
	var hints []Hint

	add := func(h Hint) {
		key := h.Kind + "\x00" + h.Detail
		if seen[key] {
			return
		}
		seen[key] = true
		hints = append(hints, h)
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := envVarPattern.FindStringSubmatch(trimmed); m != nil {
			add(Hint{Kind: "missing_env", Detail: m[1], RawLine: trimmed})
			continue
		}
		if credentialPattern.MatchString(trimmed) {
			detail := strings.ToLower(credentialPattern.FindStringSubmatch(trimmed)[2])
			add(Hint{Kind: "missing_credential", Detail: detail, RawLine: trimmed})
			if m := envVarSetPattern.FindStringSubmatch(trimmed); m != nil {
				add(Hint{Kind: "missing_env", Detail: m[1], RawLine: trimmed})
			}
			continue
		}
		if m := packagePattern.FindStringSubmatch(trimmed); m != nil {
			add(Hint{Kind: "missing_package", Detail: m[1], RawLine: trimmed})
			continue
		}
		if unauthorized.MatchString(trimmed) {
			add(Hint{Kind: "missing_credential", Detail: "authentication rejected", RawLine: trimmed})
		}
	}
	return hints
}

// SchemaHints checks a configuration schema declared through the handshake
// capability against the server's configured environment. Required keys the
// profile does not set become hints.
func SchemaHints(schema map[string]interface{}, env map[string]string) []Hint {
	required, _ := schema["required"].([]interface{})
	var hints []Hint
	for _, raw := range required {
		name, ok := raw.(string)
		if !ok || name == "" {
			continue
		}
		if _, set := env[name]; set {
			continue
		}
		hints = append(hints, Hint{
			Kind:    "missing_env",
			Detail:  name,
			RawLine: "declared required by server configuration schema",
		})
	}
	return hints
}

// HintsFor reports configuration problems for one server. A schema advertised
// during the handshake is authoritative; stderr heuristics are the fallback
// for servers that declare nothing.
func (c *Catalog) HintsFor(serverName string) []Hint {
	info := c.manager.Info(serverName)
	if len(info.ConfigSchema) > 0 {
		var env map[string]string
		if srv, ok := c.manager.Profile().Servers[serverName]; ok {
			env = srv.Env
		}
		if hints := SchemaHints(info.ConfigSchema, env); len(hints) > 0 {
			return hints
		}
	}
	return ScanStderr(c.manager.StderrTail(serverName))
}
