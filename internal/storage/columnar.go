package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gauss-stream/gauss/internal/metrics"
	"github.com/gauss-stream/gauss/internal/pipeline"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
)

// ColumnarConfig configures a Columnar storage: an S3-compatible bucket to
// archive flushed row-groups into, plus the flush thresholds that close one
// row-group and start the next.
type ColumnarConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	ForcePathStyle  bool

	FlushRecords int // row-group closes after this many rows (0 = unbounded)
}

// rowGroupRow is one decoded, converted record serialized into a row-group
// object: a JSON object of target column name -> native value, keyed by the
// same column order the schema-mapping resolver produced. This is the
// engine's row-group encoding — a simplified stand-in for genuine
// Parquet framing (see DESIGN.md).
type rowGroupRow struct {
	TsMs int64          `json:"ts_ms"`
	Cols map[string]any `json:"cols"`
}

// objectStore is the minimal S3 surface Columnar depends on, so the
// engine can be driven by a test double instead of a live bucket.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Columnar is the "columnar/external storage" variant: a
// decoding storage whose write_native path accumulates rows in memory and
// flushes them as one newline-delimited-JSON row-group object per batch to
// S3-compatible object storage. Supports query (scan flushed row-groups
// filtered by ts range) and snapshot (every row-group merged) read modes.
type Columnar struct {
	mu      sync.Mutex
	client  objectStore
	bucket  string
	prefix  string
	flushAt int

	executor *pipeline.Executor
	pending  []rowGroupRow
	seq      int

	session topic.Session
}

// NewColumnar constructs a Columnar storage. The S3 client supports
// static credentials, an optional custom endpoint for S3-compatible
// backends (MinIO, etc.), and path-style addressing when ForcePathStyle
// is set.
func NewColumnar(ctx context.Context, cfg ColumnarConfig) (*Columnar, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("storage: columnar region is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: columnar bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = cfg.ForcePathStyle },
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newColumnar(s3.NewFromConfig(awsCfg, clientOpts...), cfg), nil
}

func newColumnar(client objectStore, cfg ColumnarConfig) *Columnar {
	flushAt := cfg.FlushRecords
	if flushAt <= 0 {
		flushAt = 1000
	}
	return &Columnar{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		flushAt: flushAt,
	}
}

func (c *Columnar) Init(_ context.Context, sctx topic.Context) error {
	if sctx.Codec == nil || sctx.MapSchema == nil {
		return fmt.Errorf("storage: columnar storage requires a codec and resolved MapSchema")
	}
	c.executor = pipeline.NewExecutor(sctx.Codec, sctx.MapSchema, nil)
	c.session.MarkReady()
	return nil
}

// Close transitions the storage session to CLOSING before flushing any
// pending row-group buffer to S3, then CLOSED once that flush has
// finished — no Save/Read is valid once Close has been called.
func (c *Columnar) Close() error {
	c.session.BeginClosing()
	err := c.Rotate(context.Background())
	c.session.MarkClosed()
	return err
}

func (c *Columnar) SessionState() topic.SessionState { return c.session.State() }

func (c *Columnar) BackPressurePolicy() topic.BackPressurePolicy { return topic.PolicyBlock }

func (c *Columnar) SupportedReadModes() []topic.ReadMode {
	return []topic.ReadMode{topic.ReadQuery, topic.ReadSnapshot}
}

// WriteNative implements pipeline.NativeWriter: one call per resolved
// record appends one row to the in-memory row-group buffer.
func (c *Columnar) WriteNative(cols []string, vals []any) error {
	row := rowGroupRow{Cols: make(map[string]any, len(cols))}
	for i, name := range cols {
		if name == "ts_ms" {
			if ts, ok := vals[i].(int64); ok {
				row.TsMs = ts
			}
		}
		row.Cols[name] = vals[i]
	}

	c.mu.Lock()
	c.pending = append(c.pending, row)
	full := len(c.pending) >= c.flushAt
	c.mu.Unlock()

	if full {
		return c.Rotate(context.Background())
	}
	return nil
}

func (c *Columnar) Save(_ context.Context, rec topicrecord.Record) error {
	if err := c.session.Guard(); err != nil {
		return err
	}
	if c.executor == nil {
		return fmt.Errorf("storage: columnar storage Save called before Init")
	}
	return c.executor.Process(rec, c)
}

// Rotate flushes the pending row-group buffer to S3 as one object, named
// by a monotonically increasing sequence under cfg.Prefix. A no-op when
// nothing is pending. Registered with internal/scheduler for columnar
// topics that declare a rotation interval.
func (c *Columnar) Rotate(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	rows := c.pending
	c.pending = nil
	key := c.objectKey(c.seq)
	c.seq++
	c.mu.Unlock()

	start := time.Now()
	defer func() { metrics.ObserveBatchLatency(c.bucket, time.Since(start)) }()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("storage: encoding row-group row: %w", err)
		}
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("storage: putting row-group object: %w", err)
	}
	return nil
}

func (c *Columnar) objectKey(seq int) string {
	if c.prefix == "" {
		return fmt.Sprintf("rowgroup-%08d.jsonl", seq)
	}
	return fmt.Sprintf("%s/rowgroup-%08d.jsonl", c.prefix, seq)
}

func (c *Columnar) Read(ctx context.Context, mode topic.ReadMode, params topic.ReadParams) (topic.ReadResult, error) {
	if err := c.session.Guard(); err != nil {
		return topic.ReadResult{}, err
	}
	switch mode {
	case topic.ReadQuery, topic.ReadSnapshot:
		rows, err := c.scanAll(ctx)
		if err != nil {
			return topic.ReadResult{}, err
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].TsMs < rows[j].TsMs })

		out := make([]topicrecord.Record, 0, len(rows))
		for _, row := range rows {
			if mode == topic.ReadQuery && (row.TsMs < params.FromMs || (params.ToMs > 0 && row.TsMs > params.ToMs)) {
				continue
			}
			data, err := json.Marshal(row.Cols)
			if err != nil {
				return topic.ReadResult{}, fmt.Errorf("storage: marshaling row-group row: %w", err)
			}
			out = append(out, topicrecord.New(row.TsMs, data))
			if mode == topic.ReadQuery && params.Limit > 0 && len(out) >= params.Limit {
				break
			}
		}
		return topic.ReadResult{Records: out}, nil

	default:
		return topic.ReadResult{}, fmt.Errorf("%w: %q", topic.ErrUnsupportedReadMode, mode)
	}
}

func (c *Columnar) scanAll(ctx context.Context) ([]rowGroupRow, error) {
	prefix := c.prefix
	if prefix != "" {
		prefix += "/"
	}

	var rows []rowGroupRow
	var continuation *string
	for {
		page, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: listing row-group objects: %w", err)
		}

		for _, obj := range page.Contents {
			objRows, err := c.fetchObject(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			rows = append(rows, objRows...)
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		continuation = page.NextContinuationToken
	}

	// include whatever is buffered but not yet flushed
	c.mu.Lock()
	rows = append(rows, c.pending...)
	c.mu.Unlock()

	return rows, nil
}

func (c *Columnar) fetchObject(ctx context.Context, key string) ([]rowGroupRow, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: getting row-group object %q: %w", key, err)
	}
	defer resp.Body.Close()

	var rows []rowGroupRow
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var row rowGroupRow
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("storage: decoding row-group row from %q: %w", key, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: scanning row-group object %q: %w", key, err)
	}
	return rows, nil
}

