// Package abnormal keeps the set of nodes, devices and submodel instances
// that heartbeats have reported as unhealthy, and lets observers watch for
// new reports.
package abnormal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/docker/go-events"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/moby/flowkit/api"
)

const (
	tableNode     = "node"
	tableDevice   = "device"
	tableSubmodel = "submodel"

	indexID   = "id"
	indexNode = "node"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableNode: {
			Name: tableNode,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tableDevice: {
			Name: tableDevice,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				indexNode: {
					Name:    indexNode,
					Indexer: &memdb.StringFieldIndex{Field: "Node"},
				},
			},
		},
		tableSubmodel: {
			Name: tableSubmodel,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				indexNode: {
					Name:    indexNode,
					Indexer: &memdb.StringFieldIndex{Field: "Node"},
				},
			},
		},
	},
}

// Node records a node whose heartbeat failed or reported node-level trouble.
type Node struct {
	ID     string
	NodeID int32
}

// Device records a device reported abnormal by its node.
type Device struct {
	ID        string
	Node      string
	NodeID    int32
	DeviceID  int32
	Type      api.DeviceType
	ErrorCode api.ErrorCode
}

// Key returns the device key of the record.
func (d *Device) Key() api.DeviceKey {
	return api.DeviceKey{NodeID: d.NodeID, DeviceID: d.DeviceID, DeviceType: d.Type}
}

// Submodel records a submodel instance reported abnormal by its node.
type Submodel struct {
	ID          string
	Node        string
	NodeID      int32
	RootModelID uint32
	Name        string
}

// NodeAbnormalEvent is published the first time a node is reported abnormal.
type NodeAbnormalEvent struct {
	NodeID int32
}

// DeviceAbnormalEvent is published when a device is reported abnormal or its
// error code changes.
type DeviceAbnormalEvent struct {
	Device Device
}

// SubmodelAbnormalEvent is published the first time a submodel instance is
// reported abnormal.
type SubmodelAbnormalEvent struct {
	Submodel Submodel
}

// Registry is a concurrency-safe, in-memory record of abnormal conditions
// gathered from heartbeats.
type Registry struct {
	// updateLock serializes write transactions and the events they produce.
	updateLock sync.Mutex

	db        *memdb.MemDB
	broadcast *events.Broadcaster
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// the schema is static
		panic(err)
	}
	return &Registry{
		db:        db,
		broadcast: events.NewBroadcaster(),
	}
}

func nodeKey(nodeID int32) string {
	return fmt.Sprintf("%d", nodeID)
}

// ReportNode marks a node as abnormal.
func (r *Registry) ReportNode(nodeID int32) error {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	id := nodeKey(nodeID)
	tx := r.db.Txn(true)
	defer tx.Abort()

	existing, err := tx.First(tableNode, indexID, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := tx.Insert(tableNode, &Node{ID: id, NodeID: nodeID}); err != nil {
		return err
	}
	tx.Commit()

	return r.publish(NodeAbnormalEvent{NodeID: nodeID})
}

// ReportDevices records abnormal devices of a node. Devices already known
// with the same error code are left alone. A device reported with Success
// is healthy again and its record is removed.
func (r *Registry) ReportDevices(nodeID int32, devices []api.AbnormalDevice) error {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	node := nodeKey(nodeID)
	tx := r.db.Txn(true)
	defer tx.Abort()

	var changed []Device
	for _, d := range devices {
		rec := Device{
			Node:      node,
			NodeID:    nodeID,
			DeviceID:  d.DeviceID,
			Type:      d.DeviceType,
			ErrorCode: d.ErrorCode,
		}
		rec.ID = rec.Key().String()

		existing, err := tx.First(tableDevice, indexID, rec.ID)
		if err != nil {
			return err
		}
		if rec.ErrorCode == api.Success {
			if existing != nil {
				if err := tx.Delete(tableDevice, existing); err != nil {
					return err
				}
			}
			continue
		}
		if existing != nil && existing.(*Device).ErrorCode == rec.ErrorCode {
			continue
		}
		stored := rec
		if err := tx.Insert(tableDevice, &stored); err != nil {
			return err
		}
		changed = append(changed, rec)
	}
	tx.Commit()

	for _, d := range changed {
		if err := r.publish(DeviceAbnormalEvent{Device: d}); err != nil {
			return err
		}
	}
	return nil
}

// ReportSubmodels records abnormal submodel instances of a node, keyed by
// root model id.
func (r *Registry) ReportSubmodels(nodeID int32, submodels map[uint32][]string) error {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	node := nodeKey(nodeID)
	tx := r.db.Txn(true)
	defer tx.Abort()

	roots := make([]uint32, 0, len(submodels))
	for root := range submodels {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	var added []Submodel
	for _, root := range roots {
		for _, name := range submodels[root] {
			rec := Submodel{
				ID:          fmt.Sprintf("%s/%d/%s", node, root, name),
				Node:        node,
				NodeID:      nodeID,
				RootModelID: root,
				Name:        name,
			}
			existing, err := tx.First(tableSubmodel, indexID, rec.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			stored := rec
			if err := tx.Insert(tableSubmodel, &stored); err != nil {
				return err
			}
			added = append(added, rec)
		}
	}
	tx.Commit()

	for _, s := range added {
		if err := r.publish(SubmodelAbnormalEvent{Submodel: s}); err != nil {
			return err
		}
	}
	return nil
}

// IsNodeAbnormal reports whether the node has been marked abnormal.
func (r *Registry) IsNodeAbnormal(nodeID int32) bool {
	tx := r.db.Txn(false)
	existing, err := tx.First(tableNode, indexID, nodeKey(nodeID))
	return err == nil && existing != nil
}

// AbnormalNodes lists abnormal node ids in ascending order.
func (r *Registry) AbnormalNodes() []int32 {
	tx := r.db.Txn(false)
	it, err := tx.Get(tableNode, indexID)
	if err != nil {
		return nil
	}
	var nodes []int32
	for obj := it.Next(); obj != nil; obj = it.Next() {
		nodes = append(nodes, obj.(*Node).NodeID)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// AbnormalDevices lists the abnormal devices of a node ordered by device key.
func (r *Registry) AbnormalDevices(nodeID int32) []Device {
	tx := r.db.Txn(false)
	it, err := tx.Get(tableDevice, indexNode, nodeKey(nodeID))
	if err != nil {
		return nil
	}
	var devices []Device
	for obj := it.Next(); obj != nil; obj = it.Next() {
		devices = append(devices, *obj.(*Device))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Key().Less(devices[j].Key()) })
	return devices
}

// AbnormalSubmodels returns the abnormal submodel instance names of every
// node, grouped by root model id.
func (r *Registry) AbnormalSubmodels() map[uint32][]string {
	tx := r.db.Txn(false)
	it, err := tx.Get(tableSubmodel, indexID)
	if err != nil {
		return nil
	}
	out := make(map[uint32][]string)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		s := obj.(*Submodel)
		out[s.RootModelID] = append(out[s.RootModelID], s.Name)
	}
	for root := range out {
		sort.Strings(out[root])
	}
	return out
}

// Clear forgets everything recorded about a node.
func (r *Registry) Clear(nodeID int32) error {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	node := nodeKey(nodeID)
	tx := r.db.Txn(true)
	defer tx.Abort()

	if _, err := tx.DeleteAll(tableNode, indexID, node); err != nil {
		return err
	}
	if _, err := tx.DeleteAll(tableDevice, indexNode, node); err != nil {
		return err
	}
	if _, err := tx.DeleteAll(tableSubmodel, indexNode, node); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Watch returns a channel that receives every event published from now on,
// and a function that stops the watch. Slow watchers never block reporters.
func (r *Registry) Watch() (<-chan events.Event, func()) {
	ch := events.NewChannel(0)
	sink := events.NewQueue(ch)
	r.broadcast.Add(sink)

	return ch.C, func() {
		r.broadcast.Remove(sink)
		ch.Close()
		sink.Close()
	}
}

// Close stops event delivery to all watchers.
func (r *Registry) Close() error {
	return r.broadcast.Close()
}

func (r *Registry) publish(ev events.Event) error {
	if err := r.broadcast.Write(ev); err != nil && err != events.ErrSinkClosed {
		return err
	}
	return nil
}
