//go:build !ios && !android && (amd64 || arm64)

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestEnvCommand(t *testing.T) {
	t.Setenv("GOSPARSE_TASK_BACKEND", "custom_operation")
	t.Setenv("GOSPARSE_WORKERS", "3")

	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"env"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("env: %v", err)
	}

	lines := strings.Split(out.String(), "\n")
	want := map[string]string{
		"GOSPARSE_TASK_BACKEND": "custom_operation",
		"GOSPARSE_WORKERS":      "3",
	}
	for name, value := range want {
		found := false
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == name {
				found = true
				if fields[1] != value {
					t.Errorf("%s = %q, want %q", name, fields[1], value)
				}
			}
		}
		if !found {
			t.Errorf("%s missing from output:\n%s", name, out.String())
		}
	}
}

func TestSelftestRejectsBadFlags(t *testing.T) {
	tests := [][]string{
		{"selftest", "--queues", "0"},
		{"selftest", "--backend", "gpu"},
		{"env", "extra"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			cmd := NewCLI()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(args)
			if err := cmd.Execute(); err == nil {
				t.Error("Execute succeeded, want error")
			}
		})
	}
}
