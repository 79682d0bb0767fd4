package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"otcswap/services/synthd/storage"
)

const exportPage = 500

type eventRow struct {
	ID          int64  `parquet:"name=id, type=INT64"`
	OperationID string `parquet:"name=operation_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Type        string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes  string `parquet:"name=attributes, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RecordedAt  string `parquet:"name=recorded_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func runExportCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	database := fs.String("database", "/var/data/synthd.sqlite", "synthd journal database")
	out := fs.String("out", "synth-events.parquet", "output Parquet file")
	after := fs.Int64("after", 0, "export events with ids greater than this cursor")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	dsn, err := storage.FileDSN(*database)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := storage.Open(dsn)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	count, last, err := exportEvents(context.Background(), store, *after, *out)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d events to %s (last id %d)\n", count, *out, last)
	return 0
}

// exportEvents pages through the journal after cursor and writes every record
// to a Parquet file at path.
func exportEvents(ctx context.Context, store *storage.Storage, cursor int64, path string) (int, int64, error) {
	file, err := os.Create(strings.TrimSpace(path))
	if err != nil {
		return 0, cursor, fmt.Errorf("create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(eventRow), 1)
	if err != nil {
		file.Close()
		return 0, cursor, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	count := 0
	for {
		records, err := store.ListEvents(ctx, cursor, exportPage)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return count, cursor, err
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			attrs, err := json.Marshal(rec.Attributes)
			if err != nil {
				pw.WriteStop()
				file.Close()
				return count, cursor, fmt.Errorf("encode attributes: %w", err)
			}
			row := &eventRow{
				ID:          rec.ID,
				OperationID: rec.OperationID,
				Type:        rec.Type,
				Attributes:  string(attrs),
				RecordedAt:  rec.RecordedAt.UTC().Format(time.RFC3339Nano),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return count, cursor, fmt.Errorf("parquet write: %w", err)
			}
			cursor = rec.ID
			count++
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return count, cursor, fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return count, cursor, fmt.Errorf("close parquet file: %w", err)
	}
	return count, cursor, nil
}
