package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"shelver/internal/media"
)

var (
	validPredicateOps = map[string]struct{}{
		"equals": {}, "includes": {}, "is_one_of": {}, "contains": {}, "greater_than": {},
	}
	validPredicateFields = map[string]struct{}{
		"title": {}, "year": {}, "genres": {}, "keywords": {}, "certification": {},
		"original_language": {}, "runtime": {}, "vote_average": {}, "popularity": {}, "networks": {},
	}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateRouters(); err != nil {
		return err
	}
	if err := c.validateLibraries(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver is postgres (or set SHELVER_DATABASE_DSN)")
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q (want sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.MaxConcurrent < 1 {
		return errors.New("worker.max_concurrent must be at least 1")
	}
	if c.Queue.RetentionDays < 0 {
		return errors.New("queue.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend: unsupported value %q", c.Cache.Backend)
	}
	return nil
}

func (c *Config) validateRouters() error {
	seen := map[string]struct{}{}
	for i, r := range c.Routers {
		if r.Name == "" {
			return fmt.Errorf("routers[%d].name must be set", i)
		}
		key := strings.ToLower(r.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("routers[%d]: duplicate router name %q", i, r.Name)
		}
		seen[key] = struct{}{}
		if r.Kind != "radarr" && r.Kind != "sonarr" {
			return fmt.Errorf("routers[%d].kind: unsupported value %q (want radarr or sonarr)", i, r.Kind)
		}
		if r.URL == "" {
			return fmt.Errorf("routers[%d].url must be set", i)
		}
	}
	return nil
}

func (c *Config) validateLibraries() error {
	ids := map[int64]struct{}{}
	for i, lib := range c.Libraries {
		if lib.ID <= 0 {
			return fmt.Errorf("libraries[%d].id must be positive", i)
		}
		if _, dup := ids[lib.ID]; dup {
			return fmt.Errorf("libraries[%d]: duplicate library id %d", i, lib.ID)
		}
		ids[lib.ID] = struct{}{}
		if lib.Name == "" {
			return fmt.Errorf("libraries[%d].name must be set", i)
		}
		if !media.ValidType(lib.MediaType) {
			return fmt.Errorf("libraries[%d].media_type: unsupported value %q (want movie or tv)", i, lib.MediaType)
		}
		if lib.Route.Router != "" {
			if _, ok := c.Router(lib.Route.Router); !ok {
				return fmt.Errorf("libraries[%d].route.router: unknown router %q", i, lib.Route.Router)
			}
		}
		for j, rule := range lib.Rules {
			if err := validateRule(rule); err != nil {
				return fmt.Errorf("libraries[%d].rules[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateRule(rule Rule) error {
	if rule.Name == "" {
		return errors.New("name must be set")
	}
	for k, p := range rule.Predicates {
		if _, ok := validPredicateFields[p.Field]; !ok {
			return fmt.Errorf("predicates[%d].field: unsupported value %q", k, p.Field)
		}
		if _, ok := validPredicateOps[p.Op]; !ok {
			return fmt.Errorf("predicates[%d].op: unsupported value %q", k, p.Op)
		}
		if p.Value == "" && len(p.Values) == 0 {
			return fmt.Errorf("predicates[%d]: value or values must be set", k)
		}
		if p.Op == "greater_than" {
			if _, err := strconv.ParseFloat(p.Value, 64); err != nil {
				return fmt.Errorf("predicates[%d].value: greater_than needs a number, got %q", k, p.Value)
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
