package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/kvcore/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(p common.Packet) ([]byte, error) {
	return json.Marshal(p)
}

func (j jsonSerializerImpl) Deserialize(b []byte, p *common.Packet) error {
	*p = common.Packet{}
	return json.Unmarshal(b, p)
}
