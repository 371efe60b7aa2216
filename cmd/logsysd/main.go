// Command logsysd boots one tag-partitioned log-system coordinator: it
// loads the prior epoch's persisted core state (from ZooKeeper if
// ZK_SERVERS is set, otherwise from an in-memory store useful only for a
// single-process demo), runs epoch recovery to completion, and serves the
// resulting LogSystem's control surface until terminated. It is the
// log-system analogue of the teacher's cmd/main.go wiring entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"logsystem/internal/config"
	"logsystem/internal/control"
	"logsystem/internal/corestate"
	"logsystem/internal/logsystem"
	"logsystem/internal/logsystem/transport"
	"logsystem/pkg/metrics"
)

// currentSystem lets control.Server always read the most recently
// published LogSystem without a lock, swapped atomically each time
// EpochEnd's publish callback fires.
type currentSystem struct {
	ptr atomic.Pointer[logsystem.LogSystem]
}

func (c *currentSystem) set(ls *logsystem.LogSystem) { c.ptr.Store(ls) }

func (c *currentSystem) GetLogSystemConfig() logsystem.LogSystemConfig {
	if ls := c.ptr.Load(); ls != nil {
		return ls.GetLogSystemConfig()
	}
	return logsystem.LogSystemConfig{}
}

func (c *currentSystem) ToCoreState() logsystem.DBCoreState {
	if ls := c.ptr.Load(); ls != nil {
		return ls.ToCoreState()
	}
	return logsystem.DBCoreState{}
}

func (c *currentSystem) GetEnd() logsystem.Version {
	if ls := c.ptr.Load(); ls != nil {
		return ls.GetEnd()
	}
	return logsystem.InvalidVersion
}

func (c *currentSystem) HasRemoteLogs() bool {
	if ls := c.ptr.Load(); ls != nil {
		return ls.HasRemoteLogs()
	}
	return false
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := config.Default()
	if path := os.Getenv("LOGSYSD_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Printf("failed to load config %s: %v\n", path, err)
			os.Exit(1)
		}
		env = loaded
	}

	controlAddr := os.Getenv("LOGSYSD_CONTROL_ADDR")
	if controlAddr == "" {
		controlAddr = ":8090"
	}

	store, err := openCoreStateStore()
	if err != nil {
		fmt.Printf("failed to open core state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	prevState, found, err := store.Read(ctx)
	if err != nil {
		fmt.Printf("failed to read core state: %v\n", err)
		os.Exit(1)
	}
	prevConfig := logsystem.LogSystemConfig{}
	if found {
		prevConfig = logsystem.LogSystemConfig{
			LogSystemType: prevState.LogSystemType,
			LogRouterTags: prevState.LogRouterTags,
			TLogs:         prevState.TLogs,
			OldTLogData:   prevState.OldTLogData,
		}
	}

	registry := metrics.NewRegistry()
	dialer := transport.NewHTTPDialer(env.Transport.TLogTimeout)

	rejoins := make(chan logsystem.RejoinEnvelope)
	current := &currentSystem{}

	controlServer := control.NewServer(controlAddr, current, registry)
	if err := controlServer.Start(); err != nil {
		fmt.Printf("failed to start control server: %v\n", err)
		os.Exit(1)
	}

	publish := func(ls *logsystem.LogSystem) {
		current.set(ls)
		registry.SetGauge("logsystem_epoch_end", nil, float64(ls.GetEnd()))
		if err := store.Write(ctx, ls.ToCoreState()); err != nil {
			fmt.Printf("failed to persist core state: %v\n", err)
		}
	}

	go func() {
		if err := logsystem.EpochEnd(ctx, prevConfig, rejoins, dialer, env, publish); err != nil && ctx.Err() == nil {
			fmt.Printf("epoch recovery stopped: %v\n", err)
		}
	}()

	fmt.Printf("logsysd running, control surface on %s\n", controlAddr)
	fmt.Println("press Ctrl+C to stop...")

	<-ctx.Done()

	if err := controlServer.Stop(); err != nil {
		fmt.Printf("error stopping control server: %v\n", err)
	}

	fmt.Println("logsysd stopped")
}

func openCoreStateStore() (corestate.Store, error) {
	zkServersEnv := os.Getenv("ZK_SERVERS")
	if zkServersEnv == "" {
		return corestate.NewMemStore(), nil
	}
	zkServers := strings.Split(zkServersEnv, ",")
	path := os.Getenv("LOGSYSD_ZK_PATH")
	if path == "" {
		path = "/logsystem/core-state"
	}
	return corestate.NewZKStore(zkServers, path)
}
