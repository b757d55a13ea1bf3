package export

import (
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"orderflow-lab/internal/domain"
)

// parquetSchema describes one feature row. The ofi columns depend on the
// configured depth, so the schema is built per file instead of from a
// tagged struct.
func parquetSchema(levels int) []string {
	md := []string{
		"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8",
		"name=ts_event, type=INT64, convertedtype=TIMESTAMP_MILLIS",
	}
	for i := 0; i < levels; i++ {
		md = append(md, fmt.Sprintf("name=ofi_%d, type=DOUBLE", i))
	}
	return append(md,
		"name=log_return, type=DOUBLE",
		"name=mid_price_delta, type=DOUBLE",
	)
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// WriteParquet writes rows to a parquet file at path.
func WriteParquet(path string, rows []*domain.FeatureRow, levels int, compression string) error {
	codec, err := compressionCodec(compression)
	if err != nil {
		return err
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewCSVWriter(parquetSchema(levels), fw, 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, r := range rows {
		if len(r.OFI) != levels {
			pw.WriteStop()
			return fmt.Errorf("row %s has %d levels, want %d", r.Minute, len(r.OFI), levels)
		}
		rec := make([]interface{}, 0, levels+4)
		rec = append(rec, r.Symbol, r.Minute.UnixMilli())
		for _, v := range r.OFI {
			rec = append(rec, v)
		}
		rec = append(rec, r.LogReturn, r.MidPriceDelta)

		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	return nil
}
