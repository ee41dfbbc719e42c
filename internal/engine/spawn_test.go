package engine

import (
	"reflect"
	"strconv"
	"testing"
)

func TestBuildServeArgs(t *testing.T) {
	t.Parallel()

	got := BuildServeArgs("0.0.0.0", 4096)
	want := []string{"serve", "--hostname", "0.0.0.0", "--port", "4096", "--cors", "*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildServeArgs() = %#v, want %#v", got, want)
	}
}

func TestFindFreePortFlowsIntoArgs(t *testing.T) {
	t.Parallel()

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("FindFreePort() = %d, out of range", port)
	}

	args := BuildServeArgs("127.0.0.1", port)
	seen := 0
	for i, a := range args {
		if a == "--port" {
			if i+1 >= len(args) || args[i+1] != strconv.Itoa(port) {
				t.Fatalf("--port not followed by %d: %#v", port, args)
			}
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("--port appears %d times, want exactly once: %#v", seen, args)
	}
}

func TestFindFreePortGivesDistinctUsablePorts(t *testing.T) {
	t.Parallel()

	a, err := FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	b, err := FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	// Not guaranteed distinct by the OS, but both must be valid.
	if a <= 0 || b <= 0 {
		t.Fatalf("FindFreePort() = %d, %d", a, b)
	}
}
