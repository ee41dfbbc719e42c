package runtimeenv

import "testing"

func TestSanitizeStripsInvalidInlineFlag(t *testing.T) {
	t.Parallel()

	got, changed := SanitizeDNSResultOrderArgs("--smol --dns-result-order=ipv6first --hot")
	if !changed {
		t.Fatal("SanitizeDNSResultOrderArgs() changed = false, want true")
	}
	if got != "--smol --hot" {
		t.Fatalf("SanitizeDNSResultOrderArgs() = %q, want %q", got, "--smol --hot")
	}
}

func TestSanitizeStripsInvalidSplitFlag(t *testing.T) {
	t.Parallel()

	got, changed := SanitizeDNSResultOrderArgs("--max-old-space-size=4096 --dns-result-order weird")
	if !changed {
		t.Fatal("SanitizeDNSResultOrderArgs() changed = false, want true")
	}
	if got != "--max-old-space-size=4096" {
		t.Fatalf("SanitizeDNSResultOrderArgs() = %q, want %q", got, "--max-old-space-size=4096")
	}
}

func TestSanitizeStripsDanglingSplitFlag(t *testing.T) {
	t.Parallel()

	got, changed := SanitizeDNSResultOrderArgs("--smol --dns-result-order")
	if !changed {
		t.Fatal("SanitizeDNSResultOrderArgs() changed = false, want true")
	}
	if got != "--smol" {
		t.Fatalf("SanitizeDNSResultOrderArgs() = %q, want %q", got, "--smol")
	}
}

func TestSanitizeKeepsValidFlags(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"--dns-result-order=ipv4first",
		"--dns-result-order verbatim",
		"--smol --hot",
		"",
	} {
		got, changed := SanitizeDNSResultOrderArgs(raw)
		if changed {
			t.Fatalf("SanitizeDNSResultOrderArgs(%q) changed = true, want false", raw)
		}
		if got != raw {
			t.Fatalf("SanitizeDNSResultOrderArgs(%q) = %q, want input unchanged", raw, got)
		}
	}
}

func TestDNSOverridesAlwaysForcesResultOrder(t *testing.T) {
	t.Setenv("BUN_OPTIONS", "--smol --dns-result-order=ipv6first --hot")
	t.Setenv("NODE_OPTIONS", "--dns-result-order verbatim")

	overrides := DNSOverrides()

	if len(overrides) == 0 || overrides[0].Key != "BUN_CONFIG_DNS_RESULT_ORDER" || overrides[0].Value != "verbatim" {
		t.Fatalf("DNSOverrides() first = %+v, want forced BUN_CONFIG_DNS_RESULT_ORDER=verbatim", overrides)
	}

	var bun, node *Var
	for i := range overrides {
		switch overrides[i].Key {
		case "BUN_OPTIONS":
			bun = &overrides[i]
		case "NODE_OPTIONS":
			node = &overrides[i]
		}
	}
	if bun == nil || bun.Value != "--smol --hot" {
		t.Fatalf("DNSOverrides() BUN_OPTIONS = %+v, want sanitized", bun)
	}
	if node != nil {
		t.Fatalf("DNSOverrides() rewrote clean NODE_OPTIONS: %+v", node)
	}
}

func TestSetEnvReplacesExisting(t *testing.T) {
	t.Parallel()

	env := []string{"A=1", "B=2"}
	env = SetEnv(env, "A", "9")
	env = SetEnv(env, "C", "3")

	want := []string{"A=9", "B=2", "C=3"}
	if len(env) != len(want) {
		t.Fatalf("SetEnv() len = %d, want %d", len(env), len(want))
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("SetEnv() [%d] = %q, want %q", i, env[i], want[i])
		}
	}
}
