package corestate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"logsystem/internal/logsystem"
)

// ZKStore persists DBCoreState as the payload of a single znode, the way
// the teacher's ZKMembership persists node membership: ensurePath builds
// any missing parents, and a watch loop re-arms a GetW after every fired
// event so a caller's Watch channel keeps being served.
type ZKStore struct {
	conn *zk.Conn
	path string
}

// NewZKStore connects to the given ZooKeeper ensemble and returns a Store
// backed by the znode at path.
func NewZKStore(servers []string, path string) (*ZKStore, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("corestate: zk connect: %w", err)
	}
	s := &ZKStore{conn: conn, path: path}
	if err := s.waitConnected(10 * time.Second); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.ensurePath(path); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ZKStore) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := s.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("corestate: zk not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *ZKStore) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

func (s *ZKStore) Read(ctx context.Context) (logsystem.DBCoreState, bool, error) {
	b, _, err := s.conn.Get(s.path)
	if err == zk.ErrNoNode {
		return logsystem.DBCoreState{}, false, nil
	}
	if err != nil {
		return logsystem.DBCoreState{}, false, fmt.Errorf("corestate: zk get: %w", err)
	}
	if len(b) == 0 {
		return logsystem.DBCoreState{}, false, nil
	}
	state, err := unmarshal(b)
	if err != nil {
		return logsystem.DBCoreState{}, false, err
	}
	return state, true, nil
}

func (s *ZKStore) Write(ctx context.Context, state logsystem.DBCoreState) error {
	b, err := marshal(state)
	if err != nil {
		return err
	}
	_, stat, err := s.conn.Get(s.path)
	if err == zk.ErrNoNode {
		_, err = s.conn.Create(s.path, b, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("corestate: zk create: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("corestate: zk get before set: %w", err)
	}
	if _, err := s.conn.Set(s.path, b, stat.Version); err != nil {
		return fmt.Errorf("corestate: zk set: %w", err)
	}
	return nil
}

// Watch fires whenever the znode's data changes, re-arming a fresh GetW
// after each event until ctx is cancelled.
func (s *ZKStore) Watch(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		for {
			_, _, ch, err := s.conn.GetW(s.path)
			if err != nil {
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ch:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *ZKStore) Close() error {
	s.conn.Close()
	return nil
}
