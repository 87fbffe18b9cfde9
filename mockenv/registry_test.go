//go:build linux

package mockenv_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/mockenv/mockenv"
)

func Test_Registry_Register_Stores_Handler_When_Name_Valid(t *testing.T) {
	t.Parallel()

	r := mockenv.NewRegistry(nil)

	h := mockenv.HandlerFunc(func(mockenv.Invocation) mockenv.Outcome { return mockenv.Stdout("x") })

	_, err := r.Register("foo", h)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Lookup("foo")
	if !ok {
		t.Fatal("Lookup(foo) not found")
	}

	resp, err := got.Handle(mockenv.Invocation{Name: "foo"}).Normalize()
	if err != nil || resp.Stdout != "x" {
		t.Fatalf("handler returned %+v, %v", resp, err)
	}

	if _, ok := r.Lookup("bar"); ok {
		t.Fatal("Lookup(bar) found unexpectedly")
	}
}

func Test_Registry_Register_Returns_ErrAlreadyMocked_When_Name_Taken(t *testing.T) {
	t.Parallel()

	r := mockenv.NewRegistry(nil)

	_, err := r.Register("foo", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = r.Register("foo", nil)
	if !errors.Is(err, mockenv.ErrAlreadyMocked) {
		t.Fatalf("err=%v, want ErrAlreadyMocked", err)
	}

	r.Clear()

	_, err = r.Register("foo", nil)
	if err != nil {
		t.Fatalf("Register after Clear: %v", err)
	}
}

func Test_Registry_Register_Uses_Factory_When_Handler_Nil(t *testing.T) {
	t.Parallel()

	var created []string

	factory := mockenv.SpyFactoryFunc(func(name string) mockenv.Handler {
		created = append(created, name)

		return mockenv.NewSpy(name)
	})

	r := mockenv.NewRegistry(factory)

	h, err := r.Register("git", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	spy, ok := h.(*mockenv.Spy)
	if !ok || spy.Name() != "git" {
		t.Fatalf("handler=%#v, want spy for git", h)
	}

	explicit := mockenv.HandlerFunc(func(mockenv.Invocation) mockenv.Outcome { return mockenv.NoOutput() })

	_, err = r.Register("npm", explicit)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if diff := cmp.Diff([]string{"git"}, created); diff != "" {
		t.Fatalf("factory calls mismatch (-want +got):\n%s", diff)
	}
}

func Test_Registry_Register_Falls_Back_To_NoOutput_When_Factory_Returns_Nil(t *testing.T) {
	t.Parallel()

	r := mockenv.NewRegistry(mockenv.SpyFactoryFunc(func(string) mockenv.Handler { return nil }))

	h, err := r.Register("foo", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := h.Handle(mockenv.Invocation{Name: "foo", Args: []string{"x"}}).Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if diff := cmp.Diff(mockenv.Response{}, resp); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func Test_Registry_Names_Returns_Sorted_Names_When_Populated(t *testing.T) {
	t.Parallel()

	r := mockenv.NewRegistry(nil)

	for _, name := range []string{"npm", "git", "docker"} {
		_, err := r.Register(name, nil)
		if err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}

	if diff := cmp.Diff([]string{"docker", "git", "npm"}, r.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	r.Clear()

	if got := r.Names(); len(got) != 0 {
		t.Fatalf("Names after Clear=%v", got)
	}
}

func Test_Spy_Records_Calls_When_Handled(t *testing.T) {
	t.Parallel()

	spy := mockenv.NewSpy("git")

	if spy.Called() {
		t.Fatal("new spy reports Called")
	}

	args := []string{"status", "--short"}
	spy.Handle(mockenv.Invocation{Name: "git", Args: args})
	args[0] = "mutated"

	spy.Handle(mockenv.Invocation{Name: "git", Args: []string{}})

	want := []mockenv.Invocation{
		{Name: "git", Args: []string{"status", "--short"}},
		{Name: "git", Args: []string{}},
	}

	if diff := cmp.Diff(want, spy.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}

	if !spy.CalledWith("status", "--short") || !spy.CalledWith() {
		t.Fatal("CalledWith did not match recorded calls")
	}

	if spy.CalledWith("status") {
		t.Fatal("CalledWith matched a prefix")
	}

	if spy.CallCount() != 2 {
		t.Fatalf("CallCount=%d, want 2", spy.CallCount())
	}

	spy.Reset()

	if spy.Called() {
		t.Fatal("spy reports Called after Reset")
	}
}

func Test_Spy_Returns_Configured_Outcome_When_Handled(t *testing.T) {
	t.Parallel()

	spy := mockenv.NewSpy("git").Returns(mockenv.Result("o", "e", 1))

	resp, err := spy.Handle(mockenv.Invocation{Name: "git"}).Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if diff := cmp.Diff(mockenv.Response{Stdout: "o", Stderr: "e", ExitCode: 1}, resp); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}

	spy.ReturnsFunc(func(inv mockenv.Invocation) mockenv.Outcome {
		return mockenv.Stdout(inv.Args[0])
	})

	resp, _ = spy.Handle(mockenv.Invocation{Name: "git", Args: []string{"echoed"}}).Normalize()
	if resp.Stdout != "echoed" {
		t.Fatalf("stdout=%q, want echoed", resp.Stdout)
	}

	spy.Returns(mockenv.NoOutput())

	resp, _ = spy.Handle(mockenv.Invocation{Name: "git", Args: []string{"x"}}).Normalize()
	if resp.Stdout != "" {
		t.Fatalf("Returns did not replace ReturnsFunc: stdout=%q", resp.Stdout)
	}

	if spy.CallCount() != 3 {
		t.Fatalf("CallCount=%d, want 3", spy.CallCount())
	}
}

func Test_Spy_Is_Safe_When_Used_Concurrently(t *testing.T) {
	t.Parallel()

	spy := mockenv.NewSpy("foo")

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			spy.Handle(mockenv.Invocation{Name: "foo", Args: []string{"x"}})
			_ = spy.Calls()
		}()
	}

	wg.Wait()

	if spy.CallCount() != 50 {
		t.Fatalf("CallCount=%d, want 50", spy.CallCount())
	}
}
