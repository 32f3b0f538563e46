// Package missionfile reads the inspection point and photo offset tables.
//
// Both tables are CSV with a header record that is discarded. Structures are
// "latitude,longitude,groundAltitudeOffset,structureHeight" and photo offsets
// "offsetX,offsetY,offsetZ,gimbalPitchDegrees". Malformed or invalid records
// are skipped with a warning.
package missionfile

import (
	"encoding/csv"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/luispma04/PowerLine-Drone/internal/mission"
	"github.com/pkg/errors"
)

var (
	ErrNoRecords = errors.New("no valid records")
	ErrNotCSV    = errors.New("not a .csv file")
)

const fieldsPerRecord = 4

func ParseStructures(r io.Reader) ([]mission.InspectionPoint, error) {
	var out []mission.InspectionPoint
	err := parse(r, "inspection point", func(v [fieldsPerRecord]float64) error {
		p, err := mission.NewInspectionPoint(v[0], v[1], v[2], v[3])
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ParsePhotoOffsets(r io.Reader) ([]mission.PhotoOffset, error) {
	var out []mission.PhotoOffset
	err := parse(r, "photo offset", func(v [fieldsPerRecord]float64) error {
		o, err := mission.NewPhotoOffset(v[0], v[1], v[2], v[3])
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func LoadStructures(path string) ([]mission.InspectionPoint, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := ParseStructures(f)
	return points, errors.WithMessage(err, path)
}

func LoadPhotoOffsets(path string) ([]mission.PhotoOffset, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offsets, err := ParsePhotoOffsets(f)
	return offsets, errors.WithMessage(err, path)
}

func open(path string) (*os.File, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, errors.WithMessage(ErrNotCSV, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "opening mission file")
	}
	return f, nil
}

func parse(r io.Reader, what string, add func(v [fieldsPerRecord]float64) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header := true
	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				log.Printf("Missionfile: skipping %s on line %d: %v", what, parseErr.Line, err)
				header = false
				continue
			}
			return errors.WithMessage(err, "reading mission file")
		}
		if header {
			header = false
			continue
		}
		line, _ := reader.FieldPos(0)
		if len(record) < fieldsPerRecord {
			log.Printf("Missionfile: skipping %s on line %d: %d fields, want %d", what, line, len(record), fieldsPerRecord)
			continue
		}

		var values [fieldsPerRecord]float64
		valid := true
		for i := 0; i < fieldsPerRecord; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				log.Printf("Missionfile: skipping %s on line %d: field %d %q is not a number", what, line, i+1, record[i])
				valid = false
				break
			}
			values[i] = v
		}
		if !valid {
			continue
		}

		if err := add(values); err != nil {
			log.Printf("Missionfile: skipping %s on line %d: %v", what, line, err)
			continue
		}
		count++
	}

	if count == 0 {
		return errors.WithMessagef(ErrNoRecords, "no %s records", what)
	}
	return nil
}
