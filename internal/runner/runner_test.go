package runner

import (
	"bufio"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oriys/evalgw/internal/builder"
	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/metrics"
)

// fakeBuilder spawns a tiny shell script that mimics an engine's
// readiness protocol without needing a real interpreter installed.
func fakeBuilder() builder.Func {
	return func(port int, code string) ([]string, error) {
		return []string{"sh", "-c", "printf 'booting\\n'; printf 'OK (pid=%d)\\n' $$; sleep 5"}, nil
	}
}

func testOptions(t *testing.T, reg *builder.Registry) Options {
	t.Helper()
	return Options{
		DataPath:      t.TempDir(),
		EngineTimeout: 2 * time.Second,
		EnvironAll:    true,
		Builders:      reg,
		Metrics:       metrics.Init("evalgw_runner_test"),
	}
}

func TestStartSuccess(t *testing.T) {
	reg := builder.NewRegistry("./evalgw-engine")
	reg.Register(engine.KindPython, fakeBuilder())

	opts := testOptions(t, reg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	started, err := Start(ctx, "engine-1", EngineArgs{Name: "python"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer started.Descriptor.Cmd.Process.Kill()

	if started.Descriptor.Port == 0 {
		t.Fatal("expected non-zero port")
	}
	if _, err := os.Stat(started.Descriptor.WorkDir); err != nil {
		t.Fatalf("expected working directory to exist: %v", err)
	}
}

func TestStartBadEngine(t *testing.T) {
	reg := builder.NewRegistry("./evalgw-engine")
	opts := testOptions(t, reg)

	_, err := Start(context.Background(), "engine-2", EngineArgs{Name: "ruby"}, opts)
	if err == nil || err.Error() != engine.ReasonBadEngine {
		t.Fatalf("expected bad-engine, got %v", err)
	}
}

func TestStartTimeout(t *testing.T) {
	reg := builder.NewRegistry("./evalgw-engine")
	reg.Register(engine.KindPython, func(port int, code string) ([]string, error) {
		return []string{"sh", "-c", "sleep 5"}, nil
	})

	opts := testOptions(t, reg)
	opts.EngineTimeout = 200 * time.Millisecond

	_, err := Start(context.Background(), "engine-3", EngineArgs{Name: "python"}, opts)
	if err == nil || err.Error() != engine.ReasonTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, statErr := os.Stat(opts.DataPath + "/engine-3"); !os.IsNotExist(statErr) {
		t.Fatalf("expected working directory removed after timeout")
	}
}

func TestBuildEnvWhitelist(t *testing.T) {
	os.Setenv("EVALGW_TEST_PASSTHROUGH", "value1")
	defer os.Unsetenv("EVALGW_TEST_PASSTHROUGH")

	env := buildEnv("/tmp/cwd", "/pylibs", false, []string{"EVALGW_TEST_PASSTHROUGH"}, map[string]string{"FOO": "bar"})

	if lookup(env, "HOME") != "/tmp/cwd" {
		t.Fatalf("expected HOME set to cwd")
	}
	if lookup(env, "PYTHONUSERBASE") != "/tmp/cwd" {
		t.Fatalf("expected PYTHONUSERBASE set to cwd")
	}
	if lookup(env, "EVALGW_TEST_PASSTHROUGH") != "value1" {
		t.Fatalf("expected whitelisted var to pass through")
	}
	if lookup(env, "FOO") != "bar" {
		t.Fatalf("expected literal env var set")
	}
	if !strings.HasPrefix(lookup(env, "PYTHONPATH"), "/pylibs") {
		t.Fatalf("expected PYTHONPATH to start with configured value, got %q", lookup(env, "PYTHONPATH"))
	}
}

func TestReadinessRegexMatchesAnyPrefix(t *testing.T) {
	line := "some banner text OK (pid=4242)\n"
	m := readinessRe.FindStringSubmatch(line)
	if m == nil || m[1] != "4242" {
		t.Fatalf("expected pid match, got %v", m)
	}
}

func TestDrainAllEmptyReaderIsNoop(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	out, err := drainAll(r)
	if err != nil || out != "" {
		t.Fatalf("expected empty drain, got %q err=%v", out, err)
	}
}
