// Package utils reads and writes kline CSV files used for offline replay.
package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesToCSV writes klines to filename, creating its directory.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteKlines(file, klines); err != nil {
		return err
	}
	return file.Close()
}

// WriteKlines writes klines as CSV with a header row.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			decimal.NewFromFloat(k.Open).String(),
			decimal.NewFromFloat(k.High).String(),
			decimal.NewFromFloat(k.Low).String(),
			decimal.NewFromFloat(k.Close).String(),
			decimal.NewFromFloat(k.Volume).String(),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV loads klines written by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadKlines(file)
}

// ReadKlines parses CSV klines. The header row is required; rows are
// returned in file order and are marked final.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty kline file")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if header[0] != klineHeader[0] {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		k, err := parseKline(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(rec []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}
	var v [5]float64
	for i, s := range rec[4:] {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", klineHeader[4+i], err)
		}
		v[i] = d.InexactFloat64()
	}
	return &domain.Kline{
		OpenTime:  openTime.UTC(),
		CloseTime: closeTime.UTC(),
		Symbol:    rec[2],
		Interval:  rec[3],
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
		IsFinal:   true,
	}, nil
}
