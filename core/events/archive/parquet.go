// Package archive exports the notification journal to columnar files for
// offline analysis.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"trustescrow/core/events"
)

// Source pages through committed records. *escrow.Engine satisfies it.
type Source interface {
	Events(from uint64, limit int) ([]events.Record, error)
}

type parquetRecord struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	TxID       string `parquet:"name=tx_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Merchant   string `parquet:"name=merchant, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Result summarises an export.
type Result struct {
	Count int
	// Last is the sequence of the final exported record, zero when nothing
	// was exported.
	Last uint64
}

// Export streams every record at or after from into w as a snappy-compressed
// parquet file.
func Export(src Source, w io.Writer, from uint64) (Result, error) {
	if src == nil {
		return Result{}, errors.New("archive: source required")
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetRecord), 1)
	if err != nil {
		return Result{}, fmt.Errorf("archive: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var result Result
	next := from
	for {
		page, err := src.Events(next, events.MaxRangeLimit)
		if err != nil {
			_ = pw.WriteStop()
			return result, err
		}
		for _, record := range page {
			row, err := toParquet(record)
			if err != nil {
				_ = pw.WriteStop()
				return result, err
			}
			if err := pw.Write(row); err != nil {
				_ = pw.WriteStop()
				return result, fmt.Errorf("archive: parquet write: %w", err)
			}
			result.Count++
			result.Last = record.Sequence
			next = record.Sequence + 1
		}
		if len(page) < events.MaxRangeLimit {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		return result, fmt.Errorf("archive: parquet flush: %w", err)
	}
	return result, nil
}

// ExportFile writes the export to path, replacing any existing file.
func ExportFile(src Source, path string, from uint64) (Result, error) {
	file, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("archive: create parquet: %w", err)
	}
	result, err := Export(src, file, from)
	if err != nil {
		file.Close()
		return result, err
	}
	if err := file.Close(); err != nil {
		return result, fmt.Errorf("archive: close parquet file: %w", err)
	}
	return result, nil
}

func toParquet(record events.Record) (*parquetRecord, error) {
	attrs := record.Event().Attributes
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("archive: encode attributes: %w", err)
	}
	return &parquetRecord{
		Sequence:   int64(record.Sequence),
		Type:       record.Type,
		Timestamp:  int64(record.Timestamp),
		TxID:       attrs["id"],
		Merchant:   attrs["merchant"],
		Attributes: string(encoded),
	}, nil
}
