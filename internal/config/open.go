package config

import (
	"context"
	"fmt"

	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

// RedisOptions parses redis_url.
func (c *MarkerConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url %q: %w", c.RedisURL, err)
	}
	return opts, nil
}

// OpenLedger connects to the cohort's ledger and verifies Redis is reachable.
func (c *MarkerConfig) OpenLedger(ctx context.Context) (*ledger.Client, error) {
	opts, err := c.RedisOptions()
	if err != nil {
		return nil, err
	}
	client, err := ledger.NewClient(opts, c.Cohort)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// OpenArtifacts builds the configured artifact store.
func (c *MarkerConfig) OpenArtifacts(ctx context.Context) (artifact.Store, error) {
	switch c.Artifacts.Backend {
	case "s3":
		s3 := c.Artifacts.S3
		return artifact.NewS3Store(ctx, artifact.S3Options{
			Bucket:   s3.Bucket,
			Region:   s3.Region,
			Endpoint: s3.Endpoint,
			Prefix:   s3.Prefix,
			Expiry:   s3.URLExpiry,
		})
	default:
		return artifact.NewLocalStore(c.Artifacts.Local.Root)
	}
}
