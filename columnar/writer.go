package columnar

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/DataDog/zstd"
	"github.com/parquet-go/parquet-go"

	"github.com/flowbridge/connectkit/blobstore"
)

// Compression selects the codec C10's writer applies to the output file.
type Compression string

const (
	CompressionSnappy Compression = "snappy"
	CompressionZSTD   Compression = "zstd"
	CompressionGZIP   Compression = "gzip"
)

// Writer serializes Batches to a widely supported columnar file format
// (Parquet) and hands the bytes to a blob sink under a Hive-style
// partitioned path.
type Writer struct {
	Sink        blobstore.Sink
	Compression Compression
}

// NewWriter returns a Writer defaulting to Snappy compression.
func NewWriter(sink blobstore.Sink) *Writer {
	return &Writer{Sink: sink, Compression: CompressionSnappy}
}

// Write encodes batch as Parquet and stores it under
// "<stream>/dt=YYYY-MM-DD/data.parquet" (dots in stream replaced with
// underscores, date in UTC), returning the sink-assigned URL. Under GZIP
// the whole file is gzip-wrapped and stored as data.parquet.gz; under ZSTD
// the whole file is zstd-wrapped and stored as data.parquet.
func (w *Writer) Write(ctx context.Context, stream string, batch Batch, at time.Time) (string, error) {
	var raw, err = encodeParquet(batch, w.Compression)
	if err != nil {
		return "", fmt.Errorf("encoding parquet batch for %q: %w", stream, err)
	}

	if w.Compression == CompressionGZIP {
		raw, err = gzipBytes(raw)
		if err != nil {
			return "", fmt.Errorf("gzip-compressing batch for %q: %w", stream, err)
		}
	}

	var path = OutputPath(stream, at, w.Compression)
	url, err := w.Sink.Put(ctx, path, raw)
	if err != nil {
		return "", fmt.Errorf("writing batch for %q to sink: %w", stream, err)
	}
	return url, nil
}

// OutputPath computes the Hive-style partitioned path a connectkit run
// writes Parquet batches under.
func OutputPath(stream string, at time.Time, compression Compression) string {
	var safeName = sanitizeStreamName(stream)
	var ext = "parquet"
	if compression == CompressionGZIP {
		ext = "parquet.gz"
	}
	return fmt.Sprintf("%s/dt=%s/data.%s", safeName, at.UTC().Format("2006-01-02"), ext)
}

func sanitizeStreamName(stream string) string {
	var out = make([]rune, 0, len(stream))
	for _, r := range stream {
		if r == '.' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

func encodeParquet(batch Batch, compression Compression) ([]byte, error) {
	var schema = buildSchema(batch.Columns)

	var buf bytes.Buffer
	var codec parquet.Compression
	switch compression {
	case CompressionZSTD:
		// parquet-go's built-in ZSTD codec is not used: pages are written
		// with Snappy, and the DataDog/zstd binding below compresses the
		// finished Parquet file as a whole.
		codec = &parquet.Snappy
	default:
		codec = &parquet.Snappy
	}

	var writer = parquet.NewGenericWriter[map[string]interface{}](&buf,
		schema,
		parquet.Compression(codec),
	)

	for _, row := range batch.Rows {
		if _, err := writer.Write([]map[string]interface{}{row}); err != nil {
			return nil, fmt.Errorf("writing parquet row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}

	if compression == CompressionZSTD {
		return zstd.Compress(nil, buf.Bytes())
	}
	return buf.Bytes(), nil
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	var gz = gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildSchema(columns []Column) *parquet.Schema {
	var group = parquet.Group{}
	for _, col := range columns {
		group[col.Name] = leafNode(col)
	}
	return parquet.NewSchema("record", group)
}

func leafNode(col Column) parquet.Node {
	var node parquet.Node
	switch col.Type {
	case ColumnBool:
		node = parquet.Leaf(parquet.BooleanType)
	case ColumnInt64:
		node = parquet.Leaf(parquet.Int64Type)
	case ColumnFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case ColumnList:
		var elem parquet.Node = parquet.String()
		if col.Element != nil {
			elem = leafNode(*col.Element)
		}
		node = parquet.List(elem)
	case ColumnStruct:
		// Nested objects are stored as their compact JSON text; a true
		// recursive struct column needs a schema known ahead of time,
		// which a fully-dynamic connector document cannot supply.
		node = parquet.String()
	default:
		node = parquet.String()
	}
	if col.Nullable {
		node = parquet.Optional(node)
	}
	return node
}

var _ io.Writer = (*bytes.Buffer)(nil)
