package sde

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/evemarket/emd/internal/market"
)

//go:embed data/stations.csv
var stationsCSV []byte

// BaselineLocations parses the embedded NPC station seed that bootstraps
// the locations worker.
func BaselineLocations() ([]market.Location, error) {
	rd := csv.NewReader(bytes.NewReader(stationsCSV))
	if _, err := rd.Read(); err != nil {
		return nil, fmt.Errorf("stations csv header: %w", err)
	}
	var locs []market.Location
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stations csv: %w", err)
		}
		loc, err := stationRecord(rec)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func stationRecord(rec []string) (market.Location, error) {
	if len(rec) != 6 {
		return market.Location{}, fmt.Errorf("stations csv: %d fields", len(rec))
	}
	var loc market.Location
	var err error
	if loc.ID, err = strconv.ParseUint(rec[0], 10, 64); err != nil {
		return loc, fmt.Errorf("stations csv id %q: %w", rec[0], err)
	}
	sec, err := strconv.ParseFloat(rec[1], 32)
	if err != nil {
		return loc, fmt.Errorf("stations csv security %q: %w", rec[1], err)
	}
	loc.Security = float32(sec)
	if loc.TypeID, err = strconv.ParseUint(rec[2], 10, 64); err != nil {
		return loc, fmt.Errorf("stations csv type %q: %w", rec[2], err)
	}
	if loc.OwnerID, err = strconv.ParseUint(rec[3], 10, 64); err != nil {
		return loc, fmt.Errorf("stations csv owner %q: %w", rec[3], err)
	}
	if loc.SystemID, err = strconv.ParseUint(rec[4], 10, 64); err != nil {
		return loc, fmt.Errorf("stations csv system %q: %w", rec[4], err)
	}
	loc.Name = rec[5]
	return loc, nil
}
