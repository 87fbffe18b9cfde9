package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_RunCmd_Prints_Mocked_Stdout_When_Mock_Flag_Given(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stdout := c.MustRun("run", "--port", "0", "--mock", "git=hello", "--", "git", "status")

	if stdout != "hello" {
		t.Errorf("stdout = %q, want %q", stdout, "hello")
	}
}

func Test_RunCmd_Prints_Nothing_When_Mock_Has_No_Stdout(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stdout, stderr, code := c.Run("run", "--port", "0", "--mock", "git", "git push")

	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}

	if stdout != "" || stderr != "" {
		t.Errorf("got stdout %q stderr %q, want both empty", stdout, stderr)
	}
}

func Test_RunCmd_Passes_Through_Outcome_When_Mock_Configured(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	c.WriteFile(".mockenv.json", `{
		"port": 0,
		"mocks": {"git": {"stdout": "O", "stderr": "E", "exitCode": 3}}
	}`)

	stdout, stderr, code := c.Run("run", "git")

	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}

	if stdout != "O" {
		t.Errorf("stdout = %q, want %q", stdout, "O")
	}

	if stderr != "E" {
		t.Errorf("stderr = %q, want %q", stderr, "E")
	}
}

func Test_RunCmd_Passes_Through_Exit_Code_When_Script_Fails(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	_, stderr, code := c.Run("run", "--port", "0", "echo oops >&2; exit 7")

	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}

	if stderr != "oops\n" {
		t.Errorf("stderr = %q, want %q", stderr, "oops\n")
	}
}

func Test_RunCmd_Joins_Args_Into_One_Shell_Command(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stdout := c.MustRun("run", "--port", "0", "printf", "%s,", "a b")
	if stdout != "a,b," {
		t.Errorf("split args: stdout = %q, want %q", stdout, "a,b,")
	}

	stdout = c.MustRun("run", "--port", "0", "printf '%s,' 'a b'")
	if stdout != "a b," {
		t.Errorf("quoted command: stdout = %q, want %q", stdout, "a b,")
	}
}

func Test_RunCmd_Help_Explains_Args_Are_Joined(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	stdout := c.MustRun("run", "--help")

	AssertContains(t, stdout, "joined with spaces into one shell command string")
}

func Test_RunCmd_Flag_Mock_Overrides_Config_Mock(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	c.WriteFile(".mockenv.yaml", "port: 0\nmocks:\n  git: from-config\n  npm: npm-config\n")

	stdout := c.MustRun("run", "--mock", "git=from-flag", "git; echo; npm")

	if stdout != "from-flag\nnpm-config" {
		t.Errorf("stdout = %q, want %q", stdout, "from-flag\nnpm-config")
	}
}

func Test_RunCmd_Writes_Files_When_Configured(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	c.WriteFile(".mockenv.json", `{"port": 0, "files": {"a.txt": "hi", "sub/b.txt": "there"}}`)

	stdout := c.MustRun("run", "cat a.txt sub/b.txt")

	if stdout != "hithere" {
		t.Errorf("stdout = %q, want %q", stdout, "hithere")
	}
}

func Test_RunCmd_Forwards_Stdin_When_Given(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stdout, stderr, code := c.RunWithInput([]string{"a", "b"}, "run", "--port", "0", "cat")

	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}

	if stdout != "a\nb" {
		t.Errorf("stdout = %q, want %q", stdout, "a\nb")
	}
}

func Test_RunCmd_Hides_Real_Commands_When_Strict(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	_, stderr, code := c.Run("run", "--port", "0", "--strict", "ls")

	if code != 127 {
		t.Errorf("exit code = %d, want 127", code)
	}

	AssertContains(t, stderr, "not found")
}

func Test_RunCmd_Provides_Real_Command_When_Strict(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stdout := c.MustRun("run", "--port", "0", "--strict", "--provide", "cat", "--mock", "git=log", "git | cat")

	if stdout != "log" {
		t.Errorf("stdout = %q, want %q", stdout, "log")
	}
}

func Test_RunCmd_Fails_When_Provided_Command_Missing(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	stderr := c.MustFail("run", "--port", "0", "--provide", "no-such-command-xyz", "true")

	AssertContains(t, stderr, "command not found in PATH")
}

func Test_RunCmd_Mocks_Hosts_And_Restores_When_Done(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	const original = "127.0.0.1 localhost\n"

	c.WriteFile("hosts", original)

	hostsPath := filepath.Join(c.Dir, "hosts")

	stdout := c.MustRun("run", "--port", "0", "--hosts-file", "hosts",
		"--host", "api.test=10.0.0.9", "--host", "local.test", "cat "+hostsPath)

	AssertContains(t, stdout, "10.0.0.9 api.test")
	AssertContains(t, stdout, "127.0.0.1 local.test")

	if got := c.ReadFile("hosts"); got != original {
		t.Errorf("hosts file not restored: got %q, want %q", got, original)
	}

	if c.FileExists("hosts.mockenv-backup") {
		t.Error("hosts backup should be removed after run")
	}
}

func Test_RunCmd_Logs_Calls_When_Debug(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	_, stderr, code := c.Run("run", "--port", "0", "--debug", "--mock", "git", "--mock", "npm", "git push origin")

	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}

	AssertContains(t, stderr, "calls: invoked")
	AssertContains(t, stderr, "command=git")
	AssertContains(t, stderr, "push origin")
	AssertContains(t, stderr, "calls: never called")
	AssertContains(t, stderr, "command=npm")
	AssertContains(t, stderr, "controller: git")
}

func Test_RunCmd_Stays_Quiet_When_Not_Debug(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	_, stderr, code := c.Run("run", "--port", "0", "--mock", "git", "git")

	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}

	if stderr != "" {
		t.Errorf("stderr = %q, want empty", stderr)
	}
}

func Test_RunCmd_Reuses_Base_When_Base_Flag_Given(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	base := TempBase(t)

	for range 2 {
		stdout := c.MustRun("run", "--port", "0", "--base", base, "--mock", "git", "pwd")

		if want := filepath.Join(base, "workdir"); stdout != want {
			t.Errorf("stdout = %q, want %q", stdout, want)
		}

		_, err := os.Stat(filepath.Join(base, "bin"))
		if !os.IsNotExist(err) {
			t.Errorf("bin dir should be removed after run, stat err = %v", err)
		}
	}
}

func Test_RunCmd_Keeps_Temp_Base_When_Keep(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	RequireTmpfs(t)

	_, stderr, code := c.Run("run", "--port", "0", "--keep", "--mock", "git", "echo x > out.txt")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr)
	}

	const prefix = "mockenv: kept base directory "

	_, base, ok := strings.Cut(strings.TrimSpace(stderr), prefix)
	if !ok {
		t.Fatalf("stderr should report kept base, got %q", stderr)
	}

	t.Cleanup(func() { _ = os.RemoveAll(base) })

	content, err := os.ReadFile(filepath.Join(base, "workdir", "out.txt"))
	if err != nil {
		t.Fatalf("reading kept file: %v", err)
	}

	if string(content) != "x\n" {
		t.Errorf("kept file = %q, want %q", content, "x\n")
	}
}

func Test_RunCmd_Fails_When_Invalid_Input(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no command", args: []string{"run", "--port", "0"}, wantErr: "no command specified"},
		{name: "empty mock name", args: []string{"run", "--port", "0", "--mock", "=x", "true"}, wantErr: "invalid --mock format"},
		{name: "empty host", args: []string{"run", "--port", "0", "--host", "=1.2.3.4", "true"}, wantErr: "invalid --host format"},
		{name: "invalid mock name", args: []string{"run", "--port", "0", "--mock", "a/b", "true"}, wantErr: "a/b"},
		{name: "unknown flag", args: []string{"run", "--bogus", "true"}, wantErr: "unknown flag: --bogus"},
		{name: "empty base", args: []string{"run", "--port", "0", "--base", "", "true"}, wantErr: "--base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCLITester(t)
			RequireTmpfs(t)

			stderr := c.MustFail(tt.args...)

			AssertContains(t, stderr, tt.wantErr)
		})
	}
}
