package core

import (
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"graphcore/internal/flatten"
	"graphcore/pkg/domain"
)

// Flat type names of the engine types.
const (
	flatClientTransaction      = "ClientTransaction"
	flatDataManager            = "DataManager"
	flatDataContainer          = "DataContainer"
	flatRealObjectEndPoint     = "RealObjectEndPoint"
	flatVirtualObjectEndPoint  = "VirtualObjectEndPoint"
	flatCollectionEndPoint     = "CollectionEndPoint"
	flatDomainObjectCollection = "DomainObjectCollection"
	flatDomainObject           = "DomainObject"
)

var (
	_ flatten.Serializable = (*ClientTransaction)(nil)
	_ flatten.Serializable = (*DataManager)(nil)
	_ flatten.Serializable = (*DataContainer)(nil)
	_ flatten.Serializable = (*RealObjectEndPoint)(nil)
	_ flatten.Serializable = (*VirtualObjectEndPoint)(nil)
	_ flatten.Serializable = (*CollectionEndPoint)(nil)
	_ flatten.Serializable = (*DomainObjectCollection)(nil)
	_ flatten.Serializable = (*DomainObject)(nil)
)

// SerializeTransaction flattens a root transaction with all of its data.
// Listeners and extensions are not part of the payload; pass them again when
// deserializing.
func SerializeTransaction(tx *ClientTransaction) (flatten.Data, error) {
	if err := tx.ensureUsable("Serialize"); err != nil {
		return flatten.Data{}, err
	}
	if tx.parent != nil {
		return flatten.Data{}, domain.InvalidOperationError{Message: "only root transactions can be serialized"}
	}
	if tx.sub != nil {
		return flatten.Data{}, domain.InvalidOperationError{Message: "a transaction with an active sub-transaction cannot be serialized"}
	}
	return flatten.Serialize(tx)
}

// DeserializeTransaction rebuilds a transaction written by
// SerializeTransaction. The mapping must be supplied with WithMapping. No
// events are fired.
func DeserializeTransaction(data flatten.Data, opts ...Option) (*ClientTransaction, error) {
	r := &restorer{opts: opts}
	return flatten.Deserialize[*ClientTransaction](data, r.registry())
}

// DeserializeFragment reads a payload holding engine values, such as a
// DomainObject or a stand-alone DomainObjectCollection, against an existing
// transaction. Objects resolve to tx's hierarchy.
func DeserializeFragment[T any](tx *ClientTransaction, data flatten.Data) (T, error) {
	r := &restorer{tx: tx}
	return flatten.Deserialize[T](data, r.registry())
}

// SerializeFragment flattens a single engine value.
func SerializeFragment(v flatten.Serializable) (flatten.Data, error) {
	return flatten.Serialize(v)
}

func (tx *ClientTransaction) FlatTypeName() string { return flatClientTransaction }

func (tx *ClientTransaction) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := info.AddValue(tx.id.String()); err != nil {
		return err
	}
	info.AddBool(tx.hierarchy.binding)
	keys := make([]string, 0, len(tx.hierarchy.appData))
	for k := range tx.hierarchy.appData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := flatten.AddCollection(info, keys, func(k string) error {
		if err := info.AddValue(k); err != nil {
			return err
		}
		if err := info.AddValue(tx.hierarchy.appData[k]); err != nil {
			return fmt.Errorf("application data %q: %w", k, err)
		}
		return nil
	}); err != nil {
		return err
	}
	return info.AddHandle(tx.dm)
}

func (dm *DataManager) FlatTypeName() string { return flatDataManager }

func (dm *DataManager) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := flatten.AddCollection(info, dm.containers.All(), func(dc *DataContainer) error {
		return info.AddHandle(dc)
	}); err != nil {
		return err
	}
	if err := flatten.AddCollection(info, dm.endPoints.All(), func(ep RelationEndPoint) error {
		s, ok := ep.(flatten.Serializable)
		if !ok {
			return domain.SerializationError{Message: fmt.Sprintf("end point %s is not serializable", ep.ID())}
		}
		return info.AddHandle(s)
	}); err != nil {
		return err
	}
	discarded := make([]*DataContainer, 0, len(dm.discarded))
	for _, dc := range dm.discarded {
		discarded = append(discarded, dc)
	}
	sort.Slice(discarded, func(i, j int) bool { return discarded[i].id.String() < discarded[j].id.String() })
	if err := flatten.AddCollection(info, discarded, func(dc *DataContainer) error {
		return info.AddHandle(dc)
	}); err != nil {
		return err
	}
	invalid := make([]domain.ObjectID, 0, len(dm.invalid))
	for id := range dm.invalid {
		invalid = append(invalid, id)
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i].String() < invalid[j].String() })
	return flatten.AddCollection(info, invalid, func(id domain.ObjectID) error {
		return info.AddValue(id)
	})
}

func (dc *DataContainer) FlatTypeName() string { return flatDataContainer }

func (dc *DataContainer) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := info.AddValue(dc.id); err != nil {
		return err
	}
	if err := info.AddValue(dc.timestamp); err != nil {
		return err
	}
	info.AddBool(dc.isNew)
	info.AddBool(dc.isDeleted)
	info.AddBool(dc.isDiscarded)
	info.AddBool(dc.markedChanged)
	for _, p := range dc.class.Properties() {
		pv := dc.values[p.Name]
		if err := info.AddValue(pv.current); err != nil {
			return fmt.Errorf("%s current: %w", p.QualifiedName(), err)
		}
		if err := info.AddValue(pv.original); err != nil {
			return fmt.Errorf("%s original: %w", p.QualifiedName(), err)
		}
		info.AddBool(pv.touched)
	}
	return nil
}

func (ep *RealObjectEndPoint) FlatTypeName() string { return flatRealObjectEndPoint }

func (ep *RealObjectEndPoint) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := addEndPointID(info, ep.id); err != nil {
		return err
	}
	info.AddBool(ep.touched)
	return info.AddValue(string(ep.sync))
}

func (ep *VirtualObjectEndPoint) FlatTypeName() string { return flatVirtualObjectEndPoint }

func (ep *VirtualObjectEndPoint) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := addEndPointID(info, ep.id); err != nil {
		return err
	}
	info.AddBool(ep.touched)
	info.AddBool(ep.unsynchronized)
	if err := info.AddValue(string(ep.loadState)); err != nil {
		return err
	}
	if err := info.AddValue(ep.current); err != nil {
		return err
	}
	return info.AddValue(ep.original)
}

func (ep *CollectionEndPoint) FlatTypeName() string { return flatCollectionEndPoint }

func (ep *CollectionEndPoint) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := addEndPointID(info, ep.id); err != nil {
		return err
	}
	info.AddBool(ep.touched)
	if err := info.AddValue(string(ep.loadState)); err != nil {
		return err
	}
	addID := func(id domain.ObjectID) error { return info.AddValue(id) }
	if err := flatten.AddCollection(info, ep.currentIDs, addID); err != nil {
		return err
	}
	if err := flatten.AddCollection(info, ep.originalIDs, addID); err != nil {
		return err
	}
	if err := flatten.AddCollection(info, ep.UnsynchronizedItems(), addID); err != nil {
		return err
	}
	if err := info.AddHandle(nilIfNoCollection(ep.collection)); err != nil {
		return err
	}
	return info.AddHandle(nilIfNoCollection(ep.originalCollection))
}

func nilIfNoCollection(c *DomainObjectCollection) flatten.Serializable {
	if c == nil {
		return nil
	}
	return c
}

func addEndPointID(info *flatten.SerializationInfo, id domain.RelationEndPointID) error {
	if err := info.AddValue(id.ObjectID); err != nil {
		return err
	}
	return info.AddValue(id.PropertyName)
}

func (c *DomainObjectCollection) FlatTypeName() string { return flatDomainObjectCollection }

// SerializeIntoFlatStructure writes the collection's settings and items. An
// associated collection read back inside a transaction payload takes its
// items from the end point it is re-associated with.
func (c *DomainObjectCollection) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	if err := info.AddValue(c.requiredClass); err != nil {
		return err
	}
	info.AddBool(c.readOnly)
	info.AddBool(c.endPoint != nil)
	return flatten.AddCollection(info, c.Items(), func(o *DomainObject) error {
		return info.AddHandle(o)
	})
}

func (o *DomainObject) FlatTypeName() string { return flatDomainObject }

func (o *DomainObject) SerializeIntoFlatStructure(info *flatten.SerializationInfo) error {
	return info.AddValue(o.id)
}

// restorer holds the transaction a payload is being read into.
type restorer struct {
	tx   *ClientTransaction
	opts []Option
}

func (r *restorer) registry() *flatten.Registry {
	reg := flatten.NewRegistry()
	factories := map[string]flatten.Factory{
		flatClientTransaction:      r.clientTransaction,
		flatDataManager:            r.dataManager,
		flatDataContainer:          r.dataContainer,
		flatRealObjectEndPoint:     r.realEndPoint,
		flatVirtualObjectEndPoint:  r.virtualEndPoint,
		flatCollectionEndPoint:     r.collectionEndPoint,
		flatDomainObjectCollection: r.collection,
		flatDomainObject:           r.domainObject,
	}
	for name, f := range factories {
		if err := reg.Register(name, f); err != nil {
			panic(err)
		}
	}
	return reg
}

func (r *restorer) requireTx(what string) error {
	if r.tx == nil {
		return domain.SerializationError{Message: fmt.Sprintf("%s read outside of a transaction", what)}
	}
	return nil
}

func (r *restorer) clientTransaction(d *flatten.DeserializationInfo) (any, error) {
	if r.tx != nil {
		return nil, domain.SerializationError{Message: "nested transaction in payload"}
	}
	rawID, err := flatten.GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.SerializationError{Message: fmt.Sprintf("transaction id %q: %v", rawID, err)}
	}
	binding, err := d.GetBool()
	if err != nil {
		return nil, err
	}
	type entry struct {
		key   string
		value any
	}
	entries, err := flatten.GetCollection(d, func() (entry, error) {
		k, err := flatten.GetValueAs[string](d)
		if err != nil {
			return entry{}, err
		}
		v, err := d.GetValue()
		return entry{key: k, value: v}, err
	})
	if err != nil {
		return nil, err
	}
	opts := append(slices.Clone(r.opts), withTransactionID(id))
	for _, e := range entries {
		opts = append(opts, WithApplicationData(e.key, e.value))
	}
	tx, err := buildRoot(binding, opts)
	if err != nil {
		return nil, err
	}
	r.tx = tx
	if _, err := flatten.GetHandleAs[*DataManager](d); err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *restorer) dataManager(d *flatten.DeserializationInfo) (any, error) {
	if err := r.requireTx("data manager"); err != nil {
		return nil, err
	}
	dm := r.tx.dm
	if _, err := flatten.GetCollection(d, func() (*DataContainer, error) {
		dc, err := flatten.GetHandleAs[*DataContainer](d)
		if err != nil {
			return nil, err
		}
		if err := dm.containers.register(dc); err != nil {
			return nil, err
		}
		r.tx.hierarchy.object(dc.id)
		return dc, nil
	}); err != nil {
		return nil, err
	}
	if _, err := flatten.GetCollection(d, func() (RelationEndPoint, error) {
		ep, err := flatten.GetHandleAs[RelationEndPoint](d)
		if err != nil {
			return nil, err
		}
		dm.endPoints.register(ep)
		return ep, nil
	}); err != nil {
		return nil, err
	}
	if _, err := flatten.GetCollection(d, func() (*DataContainer, error) {
		dc, err := flatten.GetHandleAs[*DataContainer](d)
		if err != nil {
			return nil, err
		}
		dm.discarded[dc.id] = dc
		return dc, nil
	}); err != nil {
		return nil, err
	}
	if _, err := flatten.GetCollection(d, func() (domain.ObjectID, error) {
		id, err := flatten.GetValueAs[domain.ObjectID](d)
		if err == nil {
			dm.invalid[id] = true
		}
		return id, err
	}); err != nil {
		return nil, err
	}
	return dm, nil
}

func (r *restorer) dataContainer(d *flatten.DeserializationInfo) (any, error) {
	if err := r.requireTx("data container"); err != nil {
		return nil, err
	}
	id, err := flatten.GetValueAs[domain.ObjectID](d)
	if err != nil {
		return nil, err
	}
	class, err := r.tx.hierarchy.mapping.Class(id.ClassID)
	if err != nil {
		return nil, err
	}
	dc := newDataContainer(id, class)
	if dc.timestamp, err = flatten.GetValueAs[int64](d); err != nil {
		return nil, err
	}
	for _, flag := range []*bool{&dc.isNew, &dc.isDeleted, &dc.isDiscarded, &dc.markedChanged} {
		if *flag, err = d.GetBool(); err != nil {
			return nil, err
		}
	}
	for _, p := range class.Properties() {
		pv := &propertyValue{}
		if pv.current, err = d.GetValue(); err != nil {
			return nil, err
		}
		if pv.original, err = d.GetValue(); err != nil {
			return nil, err
		}
		if pv.touched, err = d.GetBool(); err != nil {
			return nil, err
		}
		dc.values[p.Name] = pv
	}
	return dc, nil
}

func (r *restorer) endPointHeader(d *flatten.DeserializationInfo) (domain.RelationEndPointID, *endPointBase, error) {
	if err := r.requireTx("end point"); err != nil {
		return domain.RelationEndPointID{}, nil, err
	}
	owner, err := flatten.GetValueAs[domain.ObjectID](d)
	if err != nil {
		return domain.RelationEndPointID{}, nil, err
	}
	prop, err := flatten.GetValueAs[string](d)
	if err != nil {
		return domain.RelationEndPointID{}, nil, err
	}
	id := domain.NewRelationEndPointID(owner, prop)
	def, err := r.tx.hierarchy.mapping.EndPointByID(id)
	if err != nil {
		return id, nil, err
	}
	touched, err := d.GetBool()
	if err != nil {
		return id, nil, err
	}
	return id, &endPointBase{id: id, def: def, touched: touched}, nil
}

func (r *restorer) realEndPoint(d *flatten.DeserializationInfo) (any, error) {
	id, base, err := r.endPointHeader(d)
	if err != nil {
		return nil, err
	}
	sync, err := flatten.GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	dc, ok := r.tx.dm.containers.Get(id.ObjectID)
	if !ok {
		return nil, domain.SerializationError{Message: fmt.Sprintf("real end point %s has no data container", id)}
	}
	return &RealObjectEndPoint{endPointBase: *base, container: dc, sync: domain.SyncState(sync)}, nil
}

func (r *restorer) virtualEndPoint(d *flatten.DeserializationInfo) (any, error) {
	_, base, err := r.endPointHeader(d)
	if err != nil {
		return nil, err
	}
	ep := &VirtualObjectEndPoint{endPointBase: *base}
	if ep.unsynchronized, err = d.GetBool(); err != nil {
		return nil, err
	}
	state, err := flatten.GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	ep.loadState = domain.LoadState(state)
	if ep.current, err = flatten.GetValueAs[domain.ObjectID](d); err != nil {
		return nil, err
	}
	if ep.original, err = flatten.GetValueAs[domain.ObjectID](d); err != nil {
		return nil, err
	}
	return ep, nil
}

func (r *restorer) collectionEndPoint(d *flatten.DeserializationInfo) (any, error) {
	_, base, err := r.endPointHeader(d)
	if err != nil {
		return nil, err
	}
	ep := &CollectionEndPoint{endPointBase: *base, unsynchronized: make(map[domain.ObjectID]bool)}
	state, err := flatten.GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	ep.loadState = domain.LoadState(state)
	getID := func() (domain.ObjectID, error) { return flatten.GetValueAs[domain.ObjectID](d) }
	if ep.currentIDs, err = flatten.GetCollection(d, getID); err != nil {
		return nil, err
	}
	if ep.originalIDs, err = flatten.GetCollection(d, getID); err != nil {
		return nil, err
	}
	unsynchronized, err := flatten.GetCollection(d, getID)
	if err != nil {
		return nil, err
	}
	for _, id := range unsynchronized {
		ep.unsynchronized[id] = true
	}
	if ep.collection, err = flatten.GetHandleAs[*DomainObjectCollection](d); err != nil {
		return nil, err
	}
	if ep.originalCollection, err = flatten.GetHandleAs[*DomainObjectCollection](d); err != nil {
		return nil, err
	}
	if ep.collection != nil {
		ep.collection.associate(r.tx, ep)
	}
	return ep, nil
}

func (r *restorer) collection(d *flatten.DeserializationInfo) (any, error) {
	requiredClass, err := flatten.GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	c := &DomainObjectCollection{requiredClass: requiredClass}
	if c.readOnly, err = d.GetBool(); err != nil {
		return nil, err
	}
	// the associated flag only matters to the end point that reads this
	// collection back
	if _, err := d.GetBool(); err != nil {
		return nil, err
	}
	if c.items, err = flatten.GetCollection(d, func() (*DomainObject, error) {
		return flatten.GetHandleAs[*DomainObject](d)
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *restorer) domainObject(d *flatten.DeserializationInfo) (any, error) {
	if err := r.requireTx("domain object"); err != nil {
		return nil, err
	}
	id, err := flatten.GetValueAs[domain.ObjectID](d)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, domain.SerializationError{Message: "domain object without id"}
	}
	return r.tx.hierarchy.object(id), nil
}
