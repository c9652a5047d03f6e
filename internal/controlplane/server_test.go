package controlplane

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oriys/evalgw/internal/builder"
	"github.com/oriys/evalgw/internal/config"
	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/metrics"
	"github.com/oriys/evalgw/internal/procmanager"
	"github.com/oriys/evalgw/internal/runner"
)

// invoke calls a unary method directly through the ClientConn, the same
// thing a generated client stub would do, since no such stub exists for
// this hand-written service.
func invoke(ctx context.Context, cc *grpc.ClientConn, method string, reply any) error {
	return cc.Invoke(ctx, method, &emptypb.Empty{}, reply)
}

func dialServer(t *testing.T, m *procmanager.Manager) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	srv.RegisterService(&ServiceDesc, NewServer(m))
	go srv.Serve(lis)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return cc, func() {
		cc.Close()
		srv.Stop()
	}
}

func newTestManager(t *testing.T) *procmanager.Manager {
	t.Helper()
	reg := builder.NewRegistry("./evalgw-engine")
	reg.Register(engine.KindPython, func(port int, code string) ([]string, error) {
		return []string{"sh", "-c", "printf 'OK (pid=%d)\\n' $$; sleep 30"}, nil
	})
	cfg := config.DefaultSettings()
	cfg.DataPath = t.TempDir()
	cfg.EngineTimeout = 2 * time.Second
	return procmanager.New(cfg, reg, metrics.Init("evalgw_controlplane_test_"+t.Name()), nil)
}

func TestStatsReportsStartedEngine(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Start("cp-1", runner.EngineArgs{Name: "python"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer m.KillAll()

	cc, cleanup := dialServer(t, m)
	defer cleanup()

	var reply structpb.Struct
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := invoke(ctx, cc, "/evalgw.ControlPlane/Stats", &reply); err != nil {
		t.Fatalf("Stats call failed: %v", err)
	}

	active := reply.Fields["active"].GetNumberValue()
	if active != 1 {
		t.Fatalf("expected 1 active engine, got %v", active)
	}
	engines := reply.Fields["engines"].GetStructValue()
	if _, ok := engines.Fields[res.Identifier]; !ok {
		t.Fatalf("expected %s in engines map, got %v", res.Identifier, engines)
	}
}

func TestKillAllStopsEngines(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Start("cp-2", runner.EngineArgs{Name: "python"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	cc, cleanup := dialServer(t, m)
	defer cleanup()

	var reply emptypb.Empty
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := invoke(ctx, cc, "/evalgw.ControlPlane/KillAll", &reply); err != nil {
		t.Fatalf("KillAll call failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats()["engines"].(map[string]any)["cp-2"] != engine.StateDead.String() {
		if time.Now().After(deadline) {
			t.Fatalf("expected cp-2 dead after KillAll, got %v", m.Stats()["engines"])
		}
		time.Sleep(20 * time.Millisecond)
	}
}
