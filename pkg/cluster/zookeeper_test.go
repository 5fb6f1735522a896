package cluster

import (
	"strings"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeZK keeps znodes in a map keyed by full path.
type fakeZK struct {
	mu        sync.Mutex
	nodes     map[string]int32 // path -> flags
	closed    bool
	ephemeral []string
}

func newFakeZK() *fakeZK {
	return &fakeZK{nodes: make(map[string]int32)}
}

func (f *fakeZK) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeZK) Create(path string, _ []byte, flags int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	if parent := path[:strings.LastIndex(path, "/")]; parent != "" {
		if _, ok := f.nodes[parent]; !ok {
			return "", zk.ErrNoNode
		}
	}
	f.nodes[path] = flags
	if flags&zk.FlagEphemeral != 0 {
		f.ephemeral = append(f.ephemeral, path)
	}
	return path, nil
}

func (f *fakeZK) Children(path string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return nil, nil, zk.ErrNoNode
	}
	var out []string
	for p := range f.nodes {
		if rest, ok := strings.CutPrefix(p, path+"/"); ok && !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *fakeZK) State() zk.State { return zk.StateHasSession }

func (f *fakeZK) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func TestZKMembership_RegisterAndList(t *testing.T) {
	conn := newFakeZK()
	a := &ZKMembership{conn: conn, rootPath: "/edgemesh", local: "10.0.0.1:6474"}
	b := &ZKMembership{conn: conn, rootPath: "/edgemesh", local: "http://10.0.0.2:6474"}

	routers, err := a.Routers()
	require.NoError(t, err)
	assert.Empty(t, routers)

	require.NoError(t, b.RegisterSelf())
	require.NoError(t, a.RegisterSelf())
	// registering twice is harmless
	require.NoError(t, a.RegisterSelf())

	routers, err = a.Routers()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:6474", "http://10.0.0.2:6474"}, routers)

	assert.Len(t, conn.ephemeral, 2)
	for _, p := range conn.ephemeral {
		assert.True(t, strings.HasPrefix(p, "/edgemesh/routers/"), p)
		assert.Equal(t, 3, strings.Count(p, "/"), "endpoint must be a single znode: %s", p)
	}

	require.NoError(t, a.Close())
	assert.True(t, conn.closed)
}
