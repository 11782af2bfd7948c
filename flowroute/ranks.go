package flowroute

import (
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
)

// RankResolver maps a device onto its rank in the collective communication
// fabric.
type RankResolver interface {
	RankID(device api.DeviceInfo) (int32, error)
}

// StaticRankTable is a RankResolver backed by a fixed device to rank map.
type StaticRankTable map[api.DeviceKey]int32

// NewStaticRankTable ranks every hcom capable device in the order the nodes
// and their devices are given.
func NewStaticRankTable(nodes ...*api.NodeInfo) StaticRankTable {
	table := make(StaticRankTable)
	var rank int32
	for _, node := range nodes {
		for _, device := range node.Devices {
			if !device.SupportHcom {
				continue
			}
			table[device.Key()] = rank
			rank++
		}
	}
	return table
}

// RankID returns the rank of device, or a Failed error if it has none.
func (t StaticRankTable) RankID(device api.DeviceInfo) (int32, error) {
	rank, ok := t[device.Key()]
	if !ok {
		return 0, errdefs.Failed("no rank for device %s", device)
	}
	return rank, nil
}
