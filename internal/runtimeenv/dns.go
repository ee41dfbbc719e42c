// Package runtimeenv prepares the environment handed to sidecar processes:
// DNS resolution overrides for Bun/Node based servers, PATH prepending for
// GUI-launched apps that never sourced a shell profile, and small home/PATH
// helpers shared by the binary resolvers.
package runtimeenv

import (
	"os"
	"strings"
)

// safeDNSResultOrder forces resolver ordering that keeps localhost probes
// working on systems where AAAA answers come back first.
const safeDNSResultOrder = "verbatim"

// Var is a single environment override.
type Var struct {
	Key   string
	Value string
}

func isValidDNSResultOrder(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ipv4first", "verbatim":
		return true
	}
	return false
}

// SanitizeDNSResultOrderArgs strips invalid --dns-result-order flags from a
// BUN_OPTIONS/NODE_OPTIONS style argument string. Both the "--flag=value" and
// the split "--flag value" spellings are recognized; valid occurrences and all
// unrelated flags pass through. The second result reports whether anything was
// removed; when false the input is returned unchanged.
func SanitizeDNSResultOrderArgs(raw string) (string, bool) {
	tokens := strings.Fields(raw)
	kept := make([]string, 0, len(tokens))
	changed := false

	for i := 0; i < len(tokens); {
		token := tokens[i]

		if order, ok := strings.CutPrefix(token, "--dns-result-order="); ok {
			if isValidDNSResultOrder(order) {
				kept = append(kept, token)
			} else {
				changed = true
			}
			i++
			continue
		}

		if token == "--dns-result-order" {
			if i+1 < len(tokens) && isValidDNSResultOrder(tokens[i+1]) {
				kept = append(kept, token, tokens[i+1])
			} else {
				changed = true
			}
			i += 2
			continue
		}

		kept = append(kept, token)
		i++
	}

	if !changed {
		return raw, false
	}
	return strings.Join(kept, " "), true
}

// DNSOverrides returns the environment overrides applied to every spawned
// sidecar: BUN_CONFIG_DNS_RESULT_ORDER is always forced to the safe value,
// and BUN_OPTIONS/NODE_OPTIONS are rewritten only when they carry an invalid
// --dns-result-order flag.
func DNSOverrides() []Var {
	overrides := []Var{{Key: "BUN_CONFIG_DNS_RESULT_ORDER", Value: safeDNSResultOrder}}

	for _, key := range []string{"BUN_OPTIONS", "NODE_OPTIONS"} {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if sanitized, changed := SanitizeDNSResultOrderArgs(value); changed {
			overrides = append(overrides, Var{Key: key, Value: sanitized})
		}
	}

	return overrides
}

// SetEnv returns env with key set to value, replacing an existing entry.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// ApplyVars applies each override to env via SetEnv.
func ApplyVars(env []string, vars []Var) []string {
	for _, v := range vars {
		env = SetEnv(env, v.Key, v.Value)
	}
	return env
}
