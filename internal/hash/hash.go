// Package hash computes the stable identity hashes used for cache staleness
// detection: per-server config hashes, the whole-profile hash, and per-tool
// description hashes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StringHash computes the SHA-256 hash of a string.
func StringHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// BytesHash computes the SHA-256 hash of a byte slice.
func BytesHash(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// ToolHash computes the hash used for tool change detection.
// Format: sha256(serverName + toolName + description + inputSchemaJSON).
func ToolHash(serverName, toolName, description string, inputSchema interface{}) (string, error) {
	var schemaBytes []byte
	var err error
	if inputSchema != nil {
		schemaBytes, err = json.Marshal(inputSchema)
		if err != nil {
			return "", fmt.Errorf("failed to marshal input schema: %w", err)
		}
	}
	return StringHash(serverName + toolName + description + string(schemaBytes)), nil
}

// ServerConfigHash hashes the fields of a server config that affect its tool
// catalog, in a fixed serialisation order so the hash is stable across runs.
// Subprocess servers hash {command,args,env}; remote servers hash {url,auth}.
func ServerConfigHash(command string, args []string, env map[string]string, url, authKind string) string {
	var b strings.Builder
	b.WriteString("command=")
	b.WriteString(command)
	b.WriteString(";args=")
	b.WriteString(strings.Join(args, "\x1f"))
	b.WriteString(";env=")
	envKeys := make([]string, 0, len(env))
	for k := range env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(env[k])
		b.WriteString("\x1f")
	}
	b.WriteString(";url=")
	b.WriteString(url)
	b.WriteString(";auth=")
	b.WriteString(authKind)
	return StringHash(b.String())
}

// ProfileHash combines per-server hashes into a single profile hash.
// Server names are sorted so the result is order-independent.
func ProfileHash(perServer map[string]string) string {
	names := make([]string, 0, len(perServer))
	for name := range perServer {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(perServer[name])
		b.WriteString("\n")
	}
	return StringHash(b.String())
}
