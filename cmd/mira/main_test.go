package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "migrate", "status"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestDefaultConfigPathFallsBackWhenUnset(t *testing.T) {
	t.Setenv("MIRA_CONFIG", "")
	if got := defaultConfigPath(); got != "mira.yaml" {
		t.Fatalf("defaultConfigPath() = %q, want mira.yaml", got)
	}
}

func TestDefaultConfigPathHonorsEnv(t *testing.T) {
	t.Setenv("MIRA_CONFIG", "/etc/mira/custom.yaml")
	if got := defaultConfigPath(); got != "/etc/mira/custom.yaml" {
		t.Fatalf("defaultConfigPath() = %q, want /etc/mira/custom.yaml", got)
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	t.Setenv("MIRA_CONFIG", "/etc/mira/env.yaml")
	if got := resolveConfigPath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Fatalf("resolveConfigPath() = %q, want /tmp/flag.yaml", got)
	}
}
