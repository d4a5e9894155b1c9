package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/markus-lassfolk/livedatabus/pkg/location"
)

// ImportCSV appends rows of "timestamp,lat,lon,accuracy,provider" to the
// named trace. timestamp is milliseconds since the epoch. A header row whose
// first field is "timestamp" is skipped. It returns the number of samples
// stored.
func (s *Store) ImportCSV(name string, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var samples []location.Sample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read trace csv: %w", err)
		}
		if line == 1 && strings.EqualFold(record[0], "timestamp") {
			continue
		}
		sample, err := parseRecord(record)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, sample)
	}

	if err := s.Append(name, samples...); err != nil {
		return 0, err
	}
	s.logger.Info("trace imported", "trace", name, "samples", len(samples))
	return len(samples), nil
}

func parseRecord(record []string) (location.Sample, error) {
	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return location.Sample{}, fmt.Errorf("invalid timestamp %q: %w", record[0], err)
	}
	lat, err := strconv.ParseFloat(record[1], 64)
	if err != nil || lat < -90 || lat > 90 {
		return location.Sample{}, fmt.Errorf("invalid latitude %q", record[1])
	}
	lon, err := strconv.ParseFloat(record[2], 64)
	if err != nil || lon < -180 || lon > 180 {
		return location.Sample{}, fmt.Errorf("invalid longitude %q", record[2])
	}
	acc, err := strconv.ParseFloat(record[3], 32)
	if err != nil || acc < 0 {
		return location.Sample{}, fmt.Errorf("invalid accuracy %q", record[3])
	}
	provider := record[4]
	if provider == "" {
		provider = location.NetworkProvider
	}
	return location.Sample{
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  float32(acc),
		Provider:  provider,
	}, nil
}
