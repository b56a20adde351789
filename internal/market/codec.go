package market

import (
	"fmt"
	"io"

	"github.com/evemarket/emd/internal/dump"
)

// midRecord converts a clean EOF into a corruption error. Used for every
// field after the first of a record: once a record has begun, running out
// of bytes is truncation, not a boundary.
func midRecord(err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: truncated record", dump.ErrCorrupt)
	}
	return err
}

// WriteOrdersBody writes the orders dump body: a u64 count followed by
// each order in insertion order.
func WriteOrdersBody(w *dump.Writer, orders []Order) error {
	if err := w.WriteUint64(uint64(len(orders))); err != nil {
		return err
	}
	for i := range orders {
		if err := writeOrder(w, &orders[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeOrder(w *dump.Writer, o *Order) error {
	var buy uint8
	if o.IsBuyOrder {
		buy = 1
	}
	if err := w.WriteUint8(buy); err != nil {
		return err
	}
	if err := w.WriteInt8(o.Range); err != nil {
		return err
	}
	if err := w.WriteUint32(o.Duration); err != nil {
		return err
	}
	for _, n := range [...]uint64{
		o.Issued, o.MinVolume, o.VolumeRemain, o.VolumeTotal,
		o.LocationID, o.SystemID, o.TypeID, o.RegionID, o.OrderID,
	} {
		if err := w.WriteUint64(n); err != nil {
			return err
		}
	}
	return w.WriteFloat64(o.Price)
}

// ReadOrdersBody reads an orders dump body written by WriteOrdersBody.
func ReadOrdersBody(r *dump.Reader) ([]Order, error) {
	count, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, count)
	for i := uint64(0); i < count; i++ {
		o, err := readOrder(r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func readOrder(r *dump.Reader) (Order, error) {
	var o Order
	buy, err := r.ReadUint8()
	if err != nil {
		return o, midRecord(err)
	}
	o.IsBuyOrder = buy != 0
	if o.Range, err = r.ReadInt8(); err != nil {
		return o, midRecord(err)
	}
	if o.Duration, err = r.ReadUint32(); err != nil {
		return o, midRecord(err)
	}
	for _, dst := range [...]*uint64{
		&o.Issued, &o.MinVolume, &o.VolumeRemain, &o.VolumeTotal,
		&o.LocationID, &o.SystemID, &o.TypeID, &o.RegionID, &o.OrderID,
	} {
		if *dst, err = r.ReadUint64(); err != nil {
			return o, midRecord(err)
		}
	}
	o.Price, err = r.ReadFloat64()
	return o, midRecord(err)
}

// WriteLocation appends one location record to a locations dump body.
// Locations bodies carry no count; readers consume records until EOF.
func WriteLocation(w *dump.Writer, l *Location) error {
	for _, n := range [...]uint64{l.ID, l.TypeID, l.OwnerID, l.SystemID} {
		if err := w.WriteUint64(n); err != nil {
			return err
		}
	}
	if err := w.WriteFloat32(l.Security); err != nil {
		return err
	}
	return w.WriteString(l.Name)
}

// ReadLocation reads one location record. io.EOF at the record boundary
// means the body is exhausted.
func ReadLocation(r *dump.Reader) (Location, error) {
	var l Location
	var err error
	if l.ID, err = r.ReadUint64(); err != nil {
		return l, err
	}
	if l.TypeID, err = r.ReadUint64(); err != nil {
		return l, midRecord(err)
	}
	if l.OwnerID, err = r.ReadUint64(); err != nil {
		return l, midRecord(err)
	}
	if l.SystemID, err = r.ReadUint64(); err != nil {
		return l, midRecord(err)
	}
	if l.Security, err = r.ReadFloat32(); err != nil {
		return l, midRecord(err)
	}
	l.Name, err = r.ReadString()
	return l, midRecord(err)
}

// WriteHistoryBit appends one history record to a histories dump body.
func WriteHistoryBit(w *dump.Writer, b *HistoryBit) error {
	if err := w.WriteUint16(b.Date.Year); err != nil {
		return err
	}
	if err := w.WriteUint16(b.Date.Day); err != nil {
		return err
	}
	if err := w.WriteUint64(b.RegionID); err != nil {
		return err
	}
	if err := w.WriteUint64(b.TypeID); err != nil {
		return err
	}
	for _, x := range [...]float64{b.Average, b.Highest, b.Lowest} {
		if err := w.WriteFloat64(x); err != nil {
			return err
		}
	}
	if err := w.WriteUint64(b.OrderCount); err != nil {
		return err
	}
	return w.WriteUint64(b.Volume)
}

// ReadHistoryBit reads one history record. io.EOF at the record boundary
// means the body is exhausted; a short read mid-record is corruption.
func ReadHistoryBit(r *dump.Reader) (HistoryBit, error) {
	var b HistoryBit
	var err error
	if b.Date.Year, err = r.ReadUint16(); err != nil {
		return b, err
	}
	if b.Date.Day, err = r.ReadUint16(); err != nil {
		return b, midRecord(err)
	}
	if b.RegionID, err = r.ReadUint64(); err != nil {
		return b, midRecord(err)
	}
	if b.TypeID, err = r.ReadUint64(); err != nil {
		return b, midRecord(err)
	}
	if b.Average, err = r.ReadFloat64(); err != nil {
		return b, midRecord(err)
	}
	if b.Highest, err = r.ReadFloat64(); err != nil {
		return b, midRecord(err)
	}
	if b.Lowest, err = r.ReadFloat64(); err != nil {
		return b, midRecord(err)
	}
	if b.OrderCount, err = r.ReadUint64(); err != nil {
		return b, midRecord(err)
	}
	b.Volume, err = r.ReadUint64()
	return b, midRecord(err)
}

// ReadHistoryChunk fills dst with up to len(dst) history records, returning
// how many were read. io.EOF is returned (with n possibly nonzero) once the
// body is exhausted.
func ReadHistoryChunk(r *dump.Reader, dst []HistoryBit) (int, error) {
	for i := range dst {
		b, err := ReadHistoryBit(r)
		if err == io.EOF {
			return i, io.EOF
		}
		if err != nil {
			return i, err
		}
		dst[i] = b
	}
	return len(dst), nil
}
