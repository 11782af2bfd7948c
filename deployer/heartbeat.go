package deployer

import (
	"context"
	"sync"

	"github.com/moby/flowkit/abnormal"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/log"
)

// ParsedHeartbeat is the abnormal state carried by one heartbeat round trip.
type ParsedHeartbeat struct {
	NodeAbnormal bool
	Devices      []api.AbnormalDevice
	Submodels    map[uint32][]string
}

// Empty reports whether nothing abnormal was observed.
func (p ParsedHeartbeat) Empty() bool {
	return !p.NodeAbnormal && len(p.Devices) == 0 && len(p.Submodels) == 0
}

// ParseHeartbeat extracts the abnormal state from the outcome of a heartbeat.
// A round trip that failed, either without a response or with an error
// response, marks the whole node abnormal.
func ParseHeartbeat(resp *api.Response, err error) ParsedHeartbeat {
	if err != nil || !resp.OK() {
		return ParsedHeartbeat{NodeAbnormal: true}
	}
	hb := resp.Heartbeat
	if hb == nil {
		return ParsedHeartbeat{}
	}
	switch hb.AbnormalType {
	case api.AbnormalTypeNode:
		return ParsedHeartbeat{NodeAbnormal: true}
	case api.AbnormalTypeDevice:
		return ParsedHeartbeat{Devices: append([]api.AbnormalDevice(nil), hb.Devices...)}
	case api.AbnormalTypeSubmodelInstance:
		submodels := make(map[uint32][]string, len(hb.Submodels))
		for root, names := range hb.Submodels {
			if len(names) != 0 {
				submodels[root] = append([]string(nil), names...)
			}
		}
		if len(submodels) == 0 {
			return ParsedHeartbeat{}
		}
		return ParsedHeartbeat{Submodels: submodels}
	}
	return ParsedHeartbeat{}
}

// abnormalTracker merges parsed heartbeats into the per-device error codes
// of one node and republishes them into the shared registry. Its lock is
// independent of the deployer's connection lock.
type abnormalTracker struct {
	mu       sync.Mutex
	nodeID   int32
	registry *abnormal.Registry
	order    []api.DeviceKey
	codes    map[api.DeviceKey]api.ErrorCode
}

func newAbnormalTracker(nodeID int32, registry *abnormal.Registry) *abnormalTracker {
	return &abnormalTracker{
		nodeID:   nodeID,
		registry: registry,
		codes:    make(map[api.DeviceKey]api.ErrorCode),
	}
}

func (t *abnormalTracker) record(ctx context.Context, p ParsedHeartbeat) {
	if p.Empty() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range p.Devices {
		key := api.DeviceKey{NodeID: t.nodeID, DeviceID: d.DeviceID, DeviceType: d.DeviceType}
		if _, ok := t.codes[key]; !ok {
			t.order = append(t.order, key)
		}
		t.codes[key] = d.ErrorCode
	}

	logger := log.G(ctx)
	if p.NodeAbnormal {
		if err := t.registry.ReportNode(t.nodeID); err != nil {
			logger.WithError(err).Error("failed to record abnormal node")
		}
	}
	if len(p.Devices) != 0 {
		if err := t.registry.ReportDevices(t.nodeID, p.Devices); err != nil {
			logger.WithError(err).Error("failed to record abnormal devices")
		}
	}
	if len(p.Submodels) != 0 {
		if err := t.registry.ReportSubmodels(t.nodeID, p.Submodels); err != nil {
			logger.WithError(err).Error("failed to record abnormal submodels")
		}
	}
}

// firstCode returns the first non-success device code in the order devices
// were first reported.
func (t *abnormalTracker) firstCode() api.ErrorCode {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range t.order {
		if code := t.codes[key]; code != api.Success {
			return code
		}
	}
	return api.Success
}
