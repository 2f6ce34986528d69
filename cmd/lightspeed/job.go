// This file keeps the CLI layer thin: it turns a job file into a producer
// and a consumer factory and hands both to the pipeline. It depends only on
// storage-agnostic interfaces and never imports database drivers directly.

package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/config"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource/file"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource/httpds"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource/s3obj"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/pipeline"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/producer"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	newRepositoryFn = storage.New

	newS3SourceFn = func(ctx context.Context, cfg s3obj.Config) (datasource.Source, error) {
		return s3obj.New(ctx, cfg)
	}
)

// runJob executes one job file end to end. The destination connection is
// opened in the acquire phase and closed when the job returns.
func runJob(ctx context.Context, p config.Pipeline) (pipeline.Result, error) {
	threshold := chunk.BytesFromMB(p.Runtime.ChunkMB())
	spec := copySpec(p)

	prod, closeSource, err := openProducer(ctx, p, threshold)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("job %s: source: %w", p.Job, err)
	}
	defer closeSource()

	var dest storage.Repository
	defer func() {
		if dest != nil {
			dest.Close()
		}
	}()

	newConsumer := func(ctx context.Context) (*storage.Consumer, error) {
		r, err := newRepositoryFn(ctx, storage.Config{
			Kind:    p.Storage.Kind,
			DSN:     p.Storage.DB.DSN,
			Options: p.Storage.DB.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", storage.ErrDestinationUnavailable, p.Storage.Kind, err)
		}
		dest = r
		return storage.NewConsumer(r, spec)
	}

	job := pipeline.CopyJob(p.Job, prod, newConsumer,
		pipeline.WithObserver(pipeline.LogObserver(nil)),
		pipeline.WithObserver(pipeline.MetricsObserver(p.Job)),
	)
	if p.Storage.DB.AutoCreateTable {
		job.Shape = func(ctx context.Context, b *pipeline.Binding) error {
			return storage.EnsureTable(ctx, p.Storage.Kind, dest, b.Consumer.Spec())
		}
	}
	return job.Run(ctx)
}

// copySpec derives the bulk-ingest description from the job file.
func copySpec(p config.Pipeline) storage.CopySpec {
	return storage.CopySpec{
		Table:      p.Storage.DB.Table,
		Columns:    p.Storage.DB.Columns,
		HasHeader:  p.Format.HasHeader(),
		Delimiter:  p.Format.Delimiter(),
		KeyColumns: p.Storage.DB.KeyColumns,
	}
}

// openProducer builds the producer for the job's source. The returned close
// function releases the origin connection of a query source and is a no-op
// otherwise.
func openProducer(ctx context.Context, p config.Pipeline, threshold int) (producer.Producer, func(), error) {
	src := producer.Source{
		Kind:      producer.KindFile,
		Threshold: threshold,
		Delimiter: p.Format.Delimiter(),
	}
	closeFn := func() {}

	switch p.Source.Kind {
	case "file":
		src.Data = file.NewLocal(p.Source.File.Path)

	case "http":
		h := p.Source.HTTP
		timeout, err := h.TimeoutDuration()
		if err != nil {
			return nil, nil, fmt.Errorf("http timeout %q: %w", h.Timeout, err)
		}
		headers := make(http.Header, len(h.Headers))
		for k, v := range h.Headers {
			headers.Set(k, v)
		}
		client := httpds.NewClient(httpds.Config{
			Timeout:            timeout,
			MaxRetries:         h.MaxRetries,
			InsecureSkipVerify: h.InsecureSkipVerify,
			BaseHeaders:        headers,
		})
		src.Data = httpds.NewSource(client, h.URL)

	case "s3":
		s := p.Source.S3
		obj, err := newS3SourceFn(ctx, s3obj.Config{
			Bucket:          s.Bucket,
			Key:             s.Key,
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			ForcePathStyle:  s.ForcePathStyle,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		src.Data = obj

	case "query":
		q := p.Source.Query
		origin, err := newRepositoryFn(ctx, storage.Config{Kind: q.Kind, DSN: q.DSN, Options: q.Options})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", producer.ErrSourceQuery, q.Kind, err)
		}
		closeFn = origin.Close
		src.Kind = producer.KindQuery
		src.Exporter = origin
		src.Query = q.SQL
		src.Label = p.Job
		src.Header = p.Format.HasHeader()

	default:
		return nil, nil, fmt.Errorf("unsupported source kind %q", p.Source.Kind)
	}

	prod, err := producer.New(src)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return prod, closeFn, nil
}

// jobNameFromPath names a job after its config file, without extension.
func jobNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
