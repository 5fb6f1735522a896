package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// zkConn is the part of *zk.Conn used by ZKMembership.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	State() zk.State
	Close()
}

// ZKMembership registers routers as ephemeral znodes under
// <root>/routers, named after their control endpoint.
type ZKMembership struct {
	conn     zkConn
	rootPath string
	local    string // control endpoint of this node
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKMembership(servers []string, rootPath, localEndpoint string) (*ZKMembership, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZKMembership{
		conn:     conn,
		rootPath: strings.TrimRight(rootPath, "/"),
		local:    localEndpoint,
	}, nil
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) routersPath() string {
	return m.rootPath + "/routers"
}

func (m *ZKMembership) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf creates the ephemeral znode of this router. It disappears
// when the session ends.
func (m *ZKMembership) RegisterSelf() error {
	if err := m.waitConnected(10 * time.Second); err != nil {
		return err
	}

	if err := m.ensurePath(m.routersPath()); err != nil {
		return fmt.Errorf("ensure routers path: %w", err)
	}

	nodePath := m.routersPath() + "/" + url.PathEscape(m.local)
	_, err := m.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("router registered in zookeeper", "path", nodePath)
	return nil
}

// Routers returns the control endpoints of every registered router, sorted.
func (m *ZKMembership) Routers() ([]string, error) {
	if err := m.waitConnected(10 * time.Second); err != nil {
		return nil, err
	}
	children, _, err := m.conn.Children(m.routersPath())
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}

	out := make([]string, 0, len(children))
	for _, c := range children {
		ep, err := url.PathUnescape(c)
		if err != nil {
			slog.Warn("skipping unparsable router znode", "name", c, "error", err)
			continue
		}
		out = append(out, ep)
	}
	slices.Sort(out)
	return out, nil
}

func (m *ZKMembership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
