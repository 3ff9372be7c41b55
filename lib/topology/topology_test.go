package topology

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/google/go-cmp/cmp"
)

func mustMap(t *testing.T, nodes []string, partitions, replicas int) *Map {
	t.Helper()
	m, err := NewMap(nodes, partitions, replicas)
	if err != nil {
		t.Fatalf("NewMap() error = %v", err)
	}
	return m
}

func TestPartitionForKey(t *testing.T) {
	keys := []string{"", "a", "user::1", "hotel::42", "some-much-longer-document-id"}
	for _, key := range keys {
		p1 := PartitionForKey([]byte(key), 1024)
		p2 := PartitionForKey([]byte(key), 1024)
		if p1 != p2 {
			t.Errorf("PartitionForKey(%q) not deterministic: %d != %d", key, p1, p2)
		}
		if p1 >= 1024 {
			t.Errorf("PartitionForKey(%q) = %d, out of range", key, p1)
		}
	}

	// a single partition always wins
	if p := PartitionForKey([]byte("anything"), 1); p != 0 {
		t.Errorf("PartitionForKey() with one partition = %d, want 0", p)
	}
}

func TestNewMapValidation(t *testing.T) {
	tests := []struct {
		name       string
		nodes      []string
		partitions int
		replicas   int
		wantErr    bool
	}{
		{"valid", []string{"a"}, 64, 0, false},
		{"no nodes", nil, 64, 1, true},
		{"no partitions", []string{"a"}, 0, 1, true},
		{"negative replicas", []string{"a"}, 64, -1, true},
		{"too many replicas", []string{"a", "b"}, 64, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMap(tt.nodes, tt.partitions, tt.replicas)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMap() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNodesFor(t *testing.T) {
	m := mustMap(t, []string{"n0", "n1", "n2"}, 8, 2)

	tests := []struct {
		partition    uint16
		wantActive   string
		wantReplicas []string
	}{
		{0, "n0", []string{"n1", "n2"}},
		{1, "n1", []string{"n2", "n0"}},
		{2, "n2", []string{"n0", "n1"}},
		{7, "n1", []string{"n2", "n0"}},
	}

	for _, tt := range tests {
		active, replicas := m.NodesFor(tt.partition)
		if active != tt.wantActive {
			t.Errorf("NodesFor(%d) active = %s, want %s", tt.partition, active, tt.wantActive)
		}
		if diff := cmp.Diff(tt.wantReplicas, replicas); diff != "" {
			t.Errorf("NodesFor(%d) replicas (-want +got):\n%s", tt.partition, diff)
		}
	}
}

func TestNodesForMoreReplicasThanNodes(t *testing.T) {
	m := mustMap(t, []string{"n0", "n1"}, 4, 3)

	active, replicas := m.NodesFor(0)
	if active != "n0" {
		t.Errorf("active = %s, want n0", active)
	}
	if diff := cmp.Diff([]string{"n1", "", ""}, replicas); diff != "" {
		t.Errorf("replicas (-want +got):\n%s", diff)
	}
	if idx := m.ReplicaIndex("n1", 0); idx != 1 {
		t.Errorf("ReplicaIndex(n1, 0) = %d, want 1", idx)
	}
	if idx := m.ReplicaIndex("n0", 0); idx != 0 {
		t.Errorf("ReplicaIndex(n0, 0) = %d, want 0", idx)
	}
}

func TestRouteKey(t *testing.T) {
	m := mustMap(t, []string{"n0", "n1", "n2"}, 64, 1)
	key := []byte("user::1")

	partition, node, err := m.RouteKey(key)
	if err != nil {
		t.Fatalf("RouteKey() error = %v", err)
	}
	if partition != PartitionForKey(key, 64) {
		t.Errorf("RouteKey() partition = %d, want %d", partition, PartitionForKey(key, 64))
	}
	if !m.IsActive(node, partition) {
		t.Errorf("RouteKey() node %s is not active for partition %d", node, partition)
	}

	replicas := m.ReplicaNodesFor(key)
	if len(replicas) != 1 || replicas[0] == node {
		t.Errorf("ReplicaNodesFor() = %v, want one replica different from %s", replicas, node)
	}
}

func TestProviderMarkDown(t *testing.T) {
	m := mustMap(t, []string{"n0", "n1"}, 1, 1)
	p := NewProvider(m)

	if _, node, err := p.RouteKey([]byte("k")); err != nil || node != "n0" {
		t.Fatalf("RouteKey() = %s, %v, want n0, nil", node, err)
	}

	rev := p.Revision()
	p.MarkDown("n0")
	if p.Revision() <= rev {
		t.Errorf("Revision() did not increase after MarkDown")
	}

	_, _, err := p.RouteKey([]byte("k"))
	if !errors.Is(err, kv.ErrNodeUnavailable) {
		t.Errorf("RouteKey() on down node error = %v, want NodeUnavailable", err)
	}

	// the original map is immutable
	if m.IsDown("n0") {
		t.Errorf("MarkDown() modified the previous map")
	}

	p.MarkUp("n0")
	if _, _, err := p.RouteKey([]byte("k")); err != nil {
		t.Errorf("RouteKey() after MarkUp error = %v", err)
	}
}

func TestProviderUpdate(t *testing.T) {
	m1 := mustMap(t, []string{"n0"}, 8, 0)
	p := NewProvider(m1)

	// same revision is ignored
	m2 := mustMap(t, []string{"n0", "n1"}, 8, 1)
	if p.Update(m2) {
		t.Errorf("Update() with equal revision applied")
	}

	m3 := m2.withDown("none", false)
	if !p.Update(m3) {
		t.Fatalf("Update() with newer revision not applied")
	}
	if p.NumReplicas() != 1 {
		t.Errorf("NumReplicas() = %d, want 1", p.NumReplicas())
	}
}
