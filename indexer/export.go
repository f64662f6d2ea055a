package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const exportPageSize = 500

type parquetRow struct {
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	EmittedAt   string `parquet:"name=emitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type        string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner       string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Liquidator  string `parquet:"name=liquidator, type=BYTE_ARRAY, convertedtype=UTF8"`
	DebtBurned  string `parquet:"name=debt_burned, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seized      string `parquet:"name=seized, type=BYTE_ARRAY, convertedtype=UTF8"`
	Incentive   string `parquet:"name=incentive, type=BYTE_ARRAY, convertedtype=UTF8"`
	StakerShare string `parquet:"name=staker_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes  string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every stored event matching filter to path as a
// snappy-compressed parquet file and returns the number of rows written.
// filter.Limit is ignored; the history is paged through in sequence order.
func (s *Store) ExportParquet(ctx context.Context, path string, filter Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := filter
	page.Limit = exportPageSize
	for {
		records, err := s.records(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for i := range records {
			evt, err := records[i].event()
			if err != nil {
				pw.WriteStop()
				file.Close()
				return written, err
			}
			row := &parquetRow{
				Sequence:    int64(evt.Sequence),
				EmittedAt:   records[i].EmittedAt.UTC().Format(time.RFC3339),
				Type:        evt.Type,
				Asset:       evt.Attr("asset"),
				Owner:       evt.Attr("owner"),
				Liquidator:  evt.Attr("liquidator"),
				DebtBurned:  evt.Attr("debtBurned"),
				Seized:      evt.Attr("seized"),
				Incentive:   evt.Attr("incentive"),
				StakerShare: evt.Attr("stakerShare"),
				Price:       evt.Attr("price"),
				Attributes:  records[i].Attributes,
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
		}
		if len(records) < exportPageSize {
			break
		}
		page.AfterSequence = records[len(records)-1].Sequence
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}
