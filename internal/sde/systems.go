package sde

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

//go:embed data/systems.csv
var systemsCSV []byte

// SystemTable maps solar system IDs to their security rating.
type SystemTable struct {
	security map[uint64]float32
}

// LoadSystems parses the embedded system-security table.
func LoadSystems() (*SystemTable, error) {
	rd := csv.NewReader(bytes.NewReader(systemsCSV))
	if _, err := rd.Read(); err != nil {
		return nil, fmt.Errorf("systems csv header: %w", err)
	}
	t := &SystemTable{security: make(map[uint64]float32)}
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("systems csv: %w", err)
		}
		id, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("systems csv id %q: %w", rec[0], err)
		}
		sec, err := strconv.ParseFloat(rec[1], 32)
		if err != nil {
			return nil, fmt.Errorf("systems csv security %q: %w", rec[1], err)
		}
		t.security[id] = float32(sec)
	}
	return t, nil
}

// Security returns the rating of a system, 0 for unknown IDs.
func (t *SystemTable) Security(systemID uint64) float32 {
	return t.security[systemID]
}

// Len returns the number of known systems.
func (t *SystemTable) Len() int {
	return len(t.security)
}
