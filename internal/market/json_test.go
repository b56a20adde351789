package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderPage = `[
  {
    "duration": 90,
    "is_buy_order": false,
    "issued": "2023-11-14T12:00:00Z",
    "location_id": 60003760,
    "min_volume": 1,
    "order_id": 6000001,
    "price": 5.25,
    "range": "region",
    "system_id": 30000142,
    "type_id": 34,
    "volume_remain": 1000,
    "volume_total": 2000
  },
  {
    "duration": 30,
    "is_buy_order": true,
    "issued": "2023-11-15T08:30:45Z",
    "location_id": 1035466617946,
    "min_volume": 100,
    "order_id": 6000002,
    "price": 4.99,
    "range": "40",
    "system_id": 30000144,
    "type_id": 35,
    "volume_remain": 50,
    "volume_total": 50
  }
]`

func TestParseOrders(t *testing.T) {
	orders, err := ParseOrders([]byte(orderPage), 10000002)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	first := orders[0]
	assert.False(t, first.IsBuyOrder)
	assert.Equal(t, int8(0), first.Range)
	assert.Equal(t, uint32(90), first.Duration)
	assert.Equal(t, uint64(1699963200), first.Issued)
	assert.Equal(t, uint64(60003760), first.LocationID)
	assert.Equal(t, uint64(10000002), first.RegionID)
	assert.Equal(t, 5.25, first.Price)

	second := orders[1]
	assert.True(t, second.IsBuyOrder)
	assert.Equal(t, int8(40), second.Range)
	assert.Equal(t, uint64(1035466617946), second.LocationID)
}

func TestParseOrdersEmpty(t *testing.T) {
	orders, err := ParseOrders([]byte(`[]`), 10000002)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRangeCodes(t *testing.T) {
	cases := map[string]int8{
		"station": -2, "solarsystem": -1, "region": 0,
		"1": 1, "2": 2, "3": 3, "4": 4, "5": 5,
		"10": 10, "20": 20, "30": 30, "40": 40,
	}
	for s, want := range cases {
		got, err := rangeCodeOf(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := rangeCodeOf("6")
	assert.Error(t, err)
	_, err = rangeCodeOf("")
	assert.Error(t, err)
}

func TestParseOrdersBadIssued(t *testing.T) {
	bad := `[{"order_id": 1, "issued": "yesterday", "range": "region"}]`
	_, err := ParseOrders([]byte(bad), 1)
	assert.Error(t, err)
}

func TestParseStructure(t *testing.T) {
	body := `{
	  "name": "Perimeter - Tranquility Trading Tower",
	  "owner_id": 98079862,
	  "solar_system_id": 30000144,
	  "type_id": 35834
	}`
	loc, err := ParseStructure([]byte(body), 1028858195912)
	require.NoError(t, err)
	assert.Equal(t, uint64(1028858195912), loc.ID)
	assert.Equal(t, uint64(35834), loc.TypeID)
	assert.Equal(t, uint64(98079862), loc.OwnerID)
	assert.Equal(t, uint64(30000144), loc.SystemID)
	assert.Equal(t, "Perimeter - Tranquility Trading Tower", loc.Name)
	assert.Zero(t, loc.Security)
}

func TestParseHistory(t *testing.T) {
	body := `[
	  {"average": 5.1, "date": "2023-11-13", "highest": 5.5, "lowest": 4.9,
	   "order_count": 120, "volume": 8000000},
	  {"average": 5.2, "date": "2023-11-14", "highest": 5.6, "lowest": 5.0,
	   "order_count": 110, "volume": 7500000}
	]`
	m := Market{RegionID: 10000002, TypeID: 34}
	bits, err := ParseHistory([]byte(body), m)
	require.NoError(t, err)
	require.Len(t, bits, 2)

	assert.Equal(t, Date{Year: 2023, Day: 317}, bits[0].Date)
	assert.Equal(t, uint64(10000002), bits[0].RegionID)
	assert.Equal(t, uint64(34), bits[0].TypeID)
	assert.Equal(t, 5.1, bits[0].Average)
	assert.Equal(t, uint64(8000000), bits[0].Volume)
	assert.Equal(t, Date{Year: 2023, Day: 318}, bits[1].Date)
}

func TestParseHistoryBadDate(t *testing.T) {
	body := `[{"average": 1, "date": "13-11-2023"}]`
	_, err := ParseHistory([]byte(body), Market{RegionID: 1, TypeID: 2})
	assert.Error(t, err)
}
