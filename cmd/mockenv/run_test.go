package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/mockenv/mockenv"
)

func Test_Run_Shows_Help_When_No_Args(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	stdout, _, code := c.Run()

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	AssertContains(t, stdout, "mockenv - run shell commands against mocked executables")
	AssertContains(t, stdout, "Commands:")
	AssertContains(t, stdout, "run [flags] [--] <command>")
	AssertContains(t, stdout, "stub [flags] <name>")
	AssertContains(t, stdout, "check [flags] [dir]")
}

func Test_Run_Shows_Help_When_Help_Flag(t *testing.T) {
	t.Parallel()

	for _, flag := range []string{"--help", "-h"} {
		c := NewCLITester(t)
		stdout, _, code := c.Run(flag)

		if code != 0 {
			t.Errorf("%s: exit code = %d, want 0", flag, code)
		}

		AssertContains(t, stdout, "Commands:")
		AssertContains(t, stdout, "Run 'mockenv <command> --help' for more information on a command.")
	}
}

func Test_Run_Shows_Version_When_Version_Flag(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	stdout, _, code := c.Run("--version")

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	// Default version is "dev" when not built with ldflags
	AssertContains(t, stdout, "mockenv dev (built from source)")
}

func Test_Run_Fails_When_Unknown_Global_Flag(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	_, stderr, code := c.Run("--bogus")

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}

	AssertContains(t, stderr, "error:")
	AssertContains(t, stderr, "unknown flag: --bogus")
	AssertContains(t, stderr, "Global flags:")
}

func Test_Run_Shows_Command_Help_When_Command_Help_Flag(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	stdout, _, code := c.Run("run", "--help")

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	AssertContains(t, stdout, "Usage: mockenv run [flags] [--] <command>")
	AssertContains(t, stdout, "--mock")
	AssertContains(t, stdout, "--strict")
}

func Test_Run_Fails_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	c.WriteFile(".mockenv.json", `{"unknown": true}`)

	stderr := c.MustFail("stub", "git")

	AssertContains(t, stderr, "unknown field")
}

func Test_Run_Treats_Unknown_Command_As_Run_When_Not_A_Subcommand(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	c.WriteFile(".mockenv.json", `{"port": 0, "mocks": {"git": "implicit"}}`)

	stdout := c.MustRun("git")

	if stdout != "implicit" {
		t.Errorf("stdout = %q, want %q", stdout, "implicit")
	}
}

func Test_Run_Returns_130_When_Interrupted(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	sigCh := make(chan os.Signal, 1)
	done := c.RunWithSignal(sigCh, "run", "--port", "0", "sleep 30")

	time.Sleep(200 * time.Millisecond)

	sigCh <- os.Interrupt

	select {
	case code := <-done:
		if code != 130 {
			t.Errorf("exit code = %d, want 130", code)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after interrupt")
	}
}

func Test_Run_Answers_Stub_Call_When_Stub_Env_Set(t *testing.T) {
	t.Parallel()

	registry := mockenv.NewRegistry(nil)
	spy := mockenv.NewSpy("git").Returns(mockenv.Result("O", "E", 4))

	_, err := registry.Register("git", spy)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctrl, err := mockenv.NewController(registry, 0, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	t.Cleanup(func() { _ = ctrl.Close() })

	env := map[string]string{
		mockenv.EnvStubName: "git",
		mockenv.EnvStubAddr: ctrl.Addr(),
	}

	var stdout, stderr bytes.Buffer

	// Flags after the stub path belong to the mocked command.
	code := Run(nil, &stdout, &stderr, []string{"/sandbox/bin/git", "--version", "-C", "dir"}, env, nil)

	if code != 4 {
		t.Errorf("exit code = %d, want 4\nstderr: %s", code, stderr.String())
	}

	if stdout.String() != "O" || stderr.String() != "E" {
		t.Errorf("got stdout %q stderr %q, want %q %q", stdout.String(), stderr.String(), "O", "E")
	}

	calls := spy.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}

	if diff := cmp.Diff([]string{"--version", "-C", "dir"}, calls[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func Test_Run_Returns_127_When_Stub_Call_Fails(t *testing.T) {
	t.Parallel()

	registry := mockenv.NewRegistry(nil)

	ctrl, err := mockenv.NewController(registry, 0, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	t.Cleanup(func() { _ = ctrl.Close() })

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{
			name:    "unknown command",
			env:     map[string]string{mockenv.EnvStubName: "npm", mockenv.EnvStubAddr: ctrl.Addr()},
			args:    []string{"/sandbox/bin/npm"},
			wantErr: "mockenv stub npm",
		},
		{
			name:    "missing address",
			env:     map[string]string{mockenv.EnvStubName: "npm"},
			args:    []string{"/sandbox/bin/npm", "install"},
			wantErr: "mockenv stub npm",
		},
		{
			name:    "arg not UTF-8",
			env:     map[string]string{mockenv.EnvStubName: "npm", mockenv.EnvStubAddr: ctrl.Addr()},
			args:    []string{"/sandbox/bin/npm", "\xff"},
			wantErr: "not valid UTF-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer

			code := Run(nil, &stdout, &stderr, tt.args, tt.env, nil)

			if code != mockenv.StubFailureExitCode {
				t.Errorf("exit code = %d, want %d", code, mockenv.StubFailureExitCode)
			}

			if stdout.Len() != 0 {
				t.Errorf("stdout = %q, want empty", stdout.String())
			}

			AssertContains(t, stderr.String(), tt.wantErr)
		})
	}
}
