package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// esiTimeLayout is the timestamp format of order issue times.
const esiTimeLayout = "2006-01-02T15:04:05Z"

type esiOrder struct {
	Duration     uint32  `json:"duration"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Issued       string  `json:"issued"`
	LocationID   uint64  `json:"location_id"`
	MinVolume    uint64  `json:"min_volume"`
	OrderID      uint64  `json:"order_id"`
	Price        float64 `json:"price"`
	Range        string  `json:"range"`
	SystemID     uint64  `json:"system_id"`
	TypeID       uint64  `json:"type_id"`
	VolumeRemain uint64  `json:"volume_remain"`
	VolumeTotal  uint64  `json:"volume_total"`
}

// ParseOrders decodes one page of a region order book, stamping each order
// with the region it was fetched from.
func ParseOrders(body []byte, regionID uint64) ([]Order, error) {
	var raw []esiOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("order page: %w", err)
	}
	orders := make([]Order, 0, len(raw))
	for i := range raw {
		o, err := convertOrder(&raw[i], regionID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func convertOrder(e *esiOrder, regionID uint64) (Order, error) {
	issued, err := time.Parse(esiTimeLayout, e.Issued)
	if err != nil {
		return Order{}, fmt.Errorf("order %d: invalid issued %q: %w", e.OrderID, e.Issued, err)
	}
	rangeCode, err := rangeCodeOf(e.Range)
	if err != nil {
		return Order{}, fmt.Errorf("order %d: %w", e.OrderID, err)
	}
	return Order{
		IsBuyOrder:   e.IsBuyOrder,
		Range:        rangeCode,
		Duration:     e.Duration,
		Issued:       uint64(issued.Unix()),
		MinVolume:    e.MinVolume,
		VolumeRemain: e.VolumeRemain,
		VolumeTotal:  e.VolumeTotal,
		LocationID:   e.LocationID,
		SystemID:     e.SystemID,
		TypeID:       e.TypeID,
		RegionID:     regionID,
		OrderID:      e.OrderID,
		Price:        e.Price,
	}, nil
}

func rangeCodeOf(s string) (int8, error) {
	switch s {
	case "station":
		return -2, nil
	case "solarsystem":
		return -1, nil
	case "region":
		return 0, nil
	case "1":
		return 1, nil
	case "2":
		return 2, nil
	case "3":
		return 3, nil
	case "4":
		return 4, nil
	case "5":
		return 5, nil
	case "10":
		return 10, nil
	case "20":
		return 20, nil
	case "30":
		return 30, nil
	case "40":
		return 40, nil
	}
	return 0, fmt.Errorf("invalid order range %q", s)
}

type esiStructure struct {
	Name          string `json:"name"`
	OwnerID       uint64 `json:"owner_id"`
	SolarSystemID uint64 `json:"solar_system_id"`
	TypeID        uint64 `json:"type_id"`
}

// ParseStructure decodes a /universe/structures/{id} response. Security is
// left zero; the caller joins it from the system table.
func ParseStructure(body []byte, id uint64) (Location, error) {
	var raw esiStructure
	if err := json.Unmarshal(body, &raw); err != nil {
		return Location{}, fmt.Errorf("structure %d: %w", id, err)
	}
	return Location{
		ID:       id,
		TypeID:   raw.TypeID,
		OwnerID:  raw.OwnerID,
		SystemID: raw.SolarSystemID,
		Name:     raw.Name,
	}, nil
}

type esiHistoryDay struct {
	Average    float64 `json:"average"`
	Date       string  `json:"date"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	OrderCount uint64  `json:"order_count"`
	Volume     uint64  `json:"volume"`
}

// ParseHistory decodes a /markets/{region}/history response into bits
// keyed to the given market.
func ParseHistory(body []byte, m Market) ([]HistoryBit, error) {
	var raw []esiHistoryDay
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("history %d/%d: %w", m.RegionID, m.TypeID, err)
	}
	bits := make([]HistoryBit, 0, len(raw))
	for i := range raw {
		date, err := ParseDay(raw[i].Date)
		if err != nil {
			return nil, fmt.Errorf("history %d/%d: %w", m.RegionID, m.TypeID, err)
		}
		bits = append(bits, HistoryBit{
			Date:       date,
			RegionID:   m.RegionID,
			TypeID:     m.TypeID,
			Average:    raw[i].Average,
			Highest:    raw[i].Highest,
			Lowest:     raw[i].Lowest,
			OrderCount: raw[i].OrderCount,
			Volume:     raw[i].Volume,
		})
	}
	return bits, nil
}
