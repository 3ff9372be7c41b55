package server

import (
	"testing"

	"github.com/ValentinKolb/kvcore/lib/store/lstore"
	"github.com/ValentinKolb/kvcore/lib/topology"
	"github.com/ValentinKolb/kvcore/rpc/common"
)

var testNodes = []string{"n0", "n1", "n2"}

func newTestAdapter(t *testing.T) (*lstore.Cluster, IRPCServerAdapter) {
	t.Helper()
	cluster, err := lstore.NewCluster(testNodes, lstore.Config{NumPartitions: 8, NumReplicas: 1})
	if err != nil {
		t.Fatalf("NewCluster() error = %v", err)
	}
	t.Cleanup(cluster.Close)
	return cluster, NewIStoreServerAdapter("test", "default")
}

func newTestPacket(op common.Opcode, key string) *common.Packet {
	pkt := common.NewRequest(op, key)
	pkt.Bucket = "default"
	pkt.Scope = "_default"
	pkt.Collection = "_default"
	return pkt
}

func TestAdapterRouting(t *testing.T) {
	cluster, adapter := newTestAdapter(t)
	key := "routed"
	partition := topology.PartitionForKey([]byte(key), 8)
	active, replicas := cluster.Topology().NodesFor(partition)

	set := newTestPacket(common.OpSet, key)
	set.Value = []byte("v")

	tests := []struct {
		name string
		node string
		req  *common.Packet
		want common.Status
	}{
		{"set on active", active, set, common.StatusSuccess},
		{"set on replica", replicas[0], set, common.StatusNotMyVBucket},
		{"get on replica", replicas[0], newTestPacket(common.OpGet, key), common.StatusNotMyVBucket},
		{"observe on replica", replicas[0], newTestPacket(common.OpObserveSeqNo, ""), common.StatusSuccess},
		{"noop", replicas[0], newTestPacket(common.OpNoop, ""), common.StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := adapter.Handle(partition, tt.req, cluster.Node(tt.node))
			if resp.Status != tt.want {
				t.Errorf("Handle() status = %s, want %s", resp.Status, tt.want)
			}
			if resp.Magic != common.MagicResponse {
				t.Errorf("Handle() magic = 0x%02x, want 0x%02x", uint8(resp.Magic), uint8(common.MagicResponse))
			}
		})
	}
}

func TestAdapterMutationToken(t *testing.T) {
	cluster, adapter := newTestAdapter(t)
	partition := topology.PartitionForKey([]byte("doc"), 8)
	active, _ := cluster.Topology().NodesFor(partition)
	node := cluster.Node(active)

	add := newTestPacket(common.OpAdd, "doc")
	add.Value = []byte("v1")
	first := adapter.Handle(partition, add, node)
	if first.Status != common.StatusSuccess || first.Cas == 0 || first.SeqNo == 0 || first.PartitionUUID == 0 {
		t.Fatalf("Handle(add) = %+v, want success with cas and mutation token", first)
	}

	if resp := adapter.Handle(partition, add, node); resp.Status != common.StatusKeyExists {
		t.Errorf("Handle(add) twice status = %s, want %s", resp.Status, common.StatusKeyExists)
	}

	get := adapter.Handle(partition, newTestPacket(common.OpGet, "doc"), node)
	if get.Status != common.StatusSuccess || string(get.Value) != "v1" || get.Cas != first.Cas {
		t.Errorf("Handle(get) = %+v, want v1 with cas %d", get, first.Cas)
	}

	observe := newTestPacket(common.OpObserveSeqNo, "")
	obs := adapter.Handle(partition, observe, node)
	if obs.PartitionUUID != first.PartitionUUID || obs.SeqNo != first.SeqNo {
		t.Errorf("Handle(observe) = (%x, %d), want (%x, %d)", obs.PartitionUUID, obs.SeqNo, first.PartitionUUID, first.SeqNo)
	}
}

func TestAdapterRejects(t *testing.T) {
	cluster, adapter := newTestAdapter(t)
	node := cluster.Node("n0")

	wrongBucket := newTestPacket(common.OpGet, "doc")
	wrongBucket.Bucket = "other"

	response := newTestPacket(common.OpGet, "doc")
	response.Magic = common.MagicResponse

	tests := []struct {
		name string
		req  *common.Packet
		want common.Status
	}{
		{"unknown bucket", wrongBucket, common.StatusInvalidArgs},
		{"response magic", response, common.StatusInvalidArgs},
		{"unknown opcode", newTestPacket(common.Opcode(0x70), "doc"), common.StatusUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := adapter.Handle(0, tt.req, node); resp.Status != tt.want {
				t.Errorf("Handle() status = %s, want %s", resp.Status, tt.want)
			}
		})
	}

	if resp := adapter.Handle(0, newTestPacket(common.OpGet, "doc"), nil); resp.Status != common.StatusInternalError {
		t.Errorf("Handle() without store status = %s, want %s", resp.Status, common.StatusInternalError)
	}
}
