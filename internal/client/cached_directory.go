package client

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-hr-approval-chains/internal/metrics"
)

const headCachePrefix = "approvals:directory:"

// CachedDirectory caches department and sub-department head lookups in Redis
// for a short TTL. Only found heads are cached so a newly assigned head is
// visible on the next lookup. Cache failures fall through to the directory.
type CachedDirectory struct {
	Directory
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCachedDirectory wraps inner with a Redis read-through cache.
func NewCachedDirectory(inner Directory, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{
		Directory: inner,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "directory_cache").Logger(),
	}
}

func (c *CachedDirectory) GetDepartmentHead(ctx context.Context, organizationID, departmentID string) (string, error) {
	return c.lookup(ctx, "department_head", departmentHeadKey(organizationID, departmentID), func() (string, error) {
		return c.Directory.GetDepartmentHead(ctx, organizationID, departmentID)
	})
}

func (c *CachedDirectory) GetSubDepartmentHead(ctx context.Context, organizationID, subDepartmentID string) (string, error) {
	return c.lookup(ctx, "sub_department_head", subDepartmentHeadKey(organizationID, subDepartmentID), func() (string, error) {
		return c.Directory.GetSubDepartmentHead(ctx, organizationID, subDepartmentID)
	})
}

// InvalidateDepartment drops a cached department head, e.g. on reassignment.
func (c *CachedDirectory) InvalidateDepartment(ctx context.Context, organizationID, departmentID string) error {
	return c.rdb.Del(ctx, departmentHeadKey(organizationID, departmentID)).Err()
}

// InvalidateSubDepartment drops a cached sub-department head.
func (c *CachedDirectory) InvalidateSubDepartment(ctx context.Context, organizationID, subDepartmentID string) error {
	return c.rdb.Del(ctx, subDepartmentHeadKey(organizationID, subDepartmentID)).Err()
}

func (c *CachedDirectory) lookup(ctx context.Context, lookup, key string, load func() (string, error)) (string, error) {
	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		metrics.DirectoryCacheTotal.WithLabelValues(lookup, "hit").Inc()
		return cached, nil
	case err == redis.Nil:
		metrics.DirectoryCacheTotal.WithLabelValues(lookup, "miss").Inc()
	default:
		metrics.DirectoryCacheTotal.WithLabelValues(lookup, "error").Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("directory cache read failed; falling back to directory")
	}

	employeeID, err := load()
	if err != nil || employeeID == "" {
		return employeeID, err
	}

	if err := c.rdb.Set(ctx, key, employeeID, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
	return employeeID, nil
}

func departmentHeadKey(organizationID, departmentID string) string {
	return headCachePrefix + organizationID + ":department:" + departmentID
}

func subDepartmentHeadKey(organizationID, subDepartmentID string) string {
	return headCachePrefix + organizationID + ":sub-department:" + subDepartmentID
}
