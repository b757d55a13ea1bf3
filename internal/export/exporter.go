// Package export writes feature tables to files and object storage.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
)

// Supported output formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Uploader copies a local file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, localPath string, metadata map[string]string) (string, error)
}

// Options configures an Exporter.
type Options struct {
	OutputDir   string
	Formats     []string // FormatCSV and/or FormatParquet, csv if empty
	Compression string   // parquet codec
	Uploader    Uploader // nil keeps files local
	RunID       string   // attached to uploaded objects
	Logger      *logger.Log
	Metrics     *observability.Metrics
}

// Exporter writes one file per symbol and format.
type Exporter struct {
	opts    Options
	log     *logger.Log
	metrics *observability.Metrics
}

// NewExporter validates formats and creates the output directory.
func NewExporter(opts Options) (*Exporter, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{FormatCSV}
	}
	for _, f := range opts.Formats {
		if f != FormatCSV && f != FormatParquet {
			return nil, fmt.Errorf("unsupported output format %q", f)
		}
		if f == FormatParquet {
			if _, err := compressionCodec(opts.Compression); err != nil {
				return nil, err
			}
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Exporter{opts: opts, log: log, metrics: metrics}, nil
}

// Path returns the output file of symbol in format, <output>/<symbol>.<format>.
func (e *Exporter) Path(symbol, format string) string {
	return filepath.Join(e.opts.OutputDir, symbol+"."+format)
}

// Export writes rows of one symbol in every configured format and uploads
// the files when an uploader is set. Returns the written locations.
func (e *Exporter) Export(ctx context.Context, symbol string, rows []*domain.FeatureRow, levels int) ([]string, error) {
	log := e.log.WithComponent("export").WithFields(logger.Fields{
		"symbol": symbol,
		"run_id": e.opts.RunID,
	})

	digest := idhash.ComputeFeatureDigest(rows)
	var locations []string
	for _, format := range e.opts.Formats {
		p := e.Path(symbol, format)
		if err := e.write(p, format, rows, levels); err != nil {
			return nil, fmt.Errorf("export %s as %s: %w", symbol, format, err)
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		e.metrics.RecordExport(format, int(info.Size()))
		locations = append(locations, p)

		log.WithFields(logger.Fields{
			"format": format,
			"path":   p,
			"rows":   len(rows),
			"bytes":  info.Size(),
		}).Info("feature file written")

		if e.opts.Uploader == nil {
			continue
		}
		uri, err := e.opts.Uploader.Upload(ctx, p, map[string]string{
			"run-id":     e.opts.RunID,
			"symbol":     symbol,
			"max-levels": strconv.Itoa(levels),
			"rows":       strconv.Itoa(len(rows)),
			"digest":     digest,
			"created-at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		locations = append(locations, uri)
		log.WithFields(logger.Fields{"uri": uri}).Info("feature file uploaded")
	}

	return locations, nil
}

func (e *Exporter) write(p, format string, rows []*domain.FeatureRow, levels int) error {
	switch format {
	case FormatParquet:
		return WriteParquet(p, rows, levels, e.opts.Compression)
	default:
		content, err := RenderCSV(rows, levels)
		if err != nil {
			return err
		}
		return os.WriteFile(p, []byte(content), 0o644)
	}
}
