package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
)

var minute0 = time.Date(2024, 3, 1, 14, 31, 0, 0, time.UTC)

func sampleRows() []*domain.FeatureRow {
	return []*domain.FeatureRow{
		{Symbol: "AAPL", Minute: minute0, OFI: []float64{1.5, -0.25}, LogReturn: 0.001, MidPriceDelta: 0.5},
		{Symbol: "AAPL", Minute: minute0.Add(time.Minute), OFI: []float64{0, 2}, LogReturn: -0.002, MidPriceDelta: -0.25},
	}
}

type fakePutter struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestHeader(t *testing.T) {
	assert.Equal(t, []string{"ts_event", "ofi_0", "ofi_1", "ofi_2", "log_return", "mid_price_delta"}, Header(3))
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleRows(), 2)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ts_event,ofi_0,ofi_1,log_return,mid_price_delta", lines[0])
	assert.Equal(t, "2024-03-01T14:31:00Z,1.5,-0.25,0.001,0.5", lines[1])
	assert.Equal(t, "2024-03-01T14:32:00Z,0,2,-0.002,-0.25", lines[2])
}

func TestRenderCSV_LevelMismatch(t *testing.T) {
	_, err := RenderCSV(sampleRows(), 3)
	assert.Error(t, err)
}

func TestExporter_WritesCSVAndParquet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	e, err := NewExporter(Options{
		OutputDir: dir,
		Formats:   []string{FormatCSV, FormatParquet},
		Logger:    logger.Discard(),
		Metrics:   m,
	})
	require.NoError(t, err)

	locations, err := e.Export(context.Background(), "AAPL", sampleRows(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "AAPL.csv"), filepath.Join(dir, "AAPL.parquet")}, locations)

	content, err := os.ReadFile(filepath.Join(dir, "AAPL.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "ts_event,ofi_0,ofi_1,"))

	raw, err := os.ReadFile(filepath.Join(dir, "AAPL.parquet"))
	require.NoError(t, err)
	require.Greater(t, len(raw), 8)
	assert.Equal(t, "PAR1", string(raw[:4]))
	assert.Equal(t, "PAR1", string(raw[len(raw)-4:]))

	fr, err := local.NewLocalFileReader(filepath.Join(dir, "AAPL.parquet"))
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetColumnReader(fr, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pr.GetNumRows())
	pr.ReadStop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesExported.WithLabelValues(FormatCSV)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesExported.WithLabelValues(FormatParquet)))
}

func TestExporter_EmptyTableWritesHeader(t *testing.T) {
	dir := t.TempDir()
	e, err := NewExporter(Options{OutputDir: dir, Logger: logger.Discard(), Metrics: observability.NewMetrics("test", prometheus.NewRegistry())})
	require.NoError(t, err)

	_, err = e.Export(context.Background(), "MSFT", nil, 5)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "MSFT.csv"))
	require.NoError(t, err)
	assert.Equal(t, "ts_event,ofi_0,ofi_1,ofi_2,ofi_3,ofi_4,log_return,mid_price_delta\n", string(content))
}

func TestExporter_Uploads(t *testing.T) {
	dir := t.TempDir()
	putter := &fakePutter{}
	e, err := NewExporter(Options{
		OutputDir: dir,
		Uploader:  newS3Uploader(putter, "features-bucket", "ofi/2024"),
		RunID:     "run-1",
		Logger:    logger.Discard(),
		Metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	locations, err := e.Export(context.Background(), "AAPL", sampleRows(), 2)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "s3://features-bucket/ofi/2024/AAPL.csv", locations[1])

	require.Len(t, putter.inputs, 1)
	in := putter.inputs[0]
	assert.Equal(t, "features-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "ofi/2024/AAPL.csv", aws.ToString(in.Key))
	assert.Equal(t, "text/csv", aws.ToString(in.ContentType))
	assert.Equal(t, "run-1", in.Metadata["run-id"])
	assert.Equal(t, "2", in.Metadata["max-levels"])
	assert.Len(t, in.Metadata["digest"], 64)

	onDisk, _ := os.ReadFile(filepath.Join(dir, "AAPL.csv"))
	assert.Equal(t, onDisk, putter.bodies[0])
}

func TestExporter_UploadError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	e, err := NewExporter(Options{
		OutputDir: t.TempDir(),
		Uploader:  newS3Uploader(putter, "b", ""),
		Logger:    logger.Discard(),
		Metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	_, err = e.Export(context.Background(), "AAPL", sampleRows(), 2)
	assert.ErrorContains(t, err, "access denied")
}

func TestNewExporter_Invalid(t *testing.T) {
	_, err := NewExporter(Options{})
	assert.Error(t, err)

	_, err = NewExporter(Options{OutputDir: t.TempDir(), Formats: []string{"xlsx"}})
	assert.Error(t, err)

	_, err = NewExporter(Options{OutputDir: t.TempDir(), Formats: []string{FormatParquet}, Compression: "brotli9"})
	assert.Error(t, err)
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Options{})
	assert.Error(t, err)
}
