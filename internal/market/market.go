// Package market holds the domain model of the hoarder: orders, locations,
// daily history statistics, and the ordinal dates keying them. It also owns
// the JSON decoding of upstream payloads and the binary body codecs used by
// the dump files.
package market

// Order is one market offer, immutable once parsed.
type Order struct {
	IsBuyOrder   bool
	Range        int8 // -2 station, -1 solar system, 0 region, else jump count
	Duration     uint32
	Issued       uint64 // epoch seconds
	MinVolume    uint64
	VolumeRemain uint64
	VolumeTotal  uint64
	LocationID   uint64
	SystemID     uint64
	TypeID       uint64
	RegionID     uint64
	OrderID      uint64
	Price        float64
}

// Location is structure or station metadata. Once discovered it is never
// modified or evicted.
type Location struct {
	ID       uint64
	TypeID   uint64
	OwnerID  uint64
	SystemID uint64
	Security float32
	Name     string
}

// HistoryBit is one (date, region, type) daily statistics row.
type HistoryBit struct {
	Date       Date
	RegionID   uint64
	TypeID     uint64
	Average    float64
	Highest    float64
	Lowest     float64
	OrderCount uint64
	Volume     uint64
}

// Market identifies one (region, type) order book.
type Market struct {
	RegionID uint64
	TypeID   uint64
}
