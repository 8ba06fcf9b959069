package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/flagx"
	"github.com/dmitrijs2005/cloudstore/internal/timex"
	"gopkg.in/yaml.v3"
)

// StorageSettings is the "cloud_storage_settings" section of the config file.
// Expiration is given in seconds.
type StorageSettings struct {
	EndpointURL string `json:"endpoint_url" yaml:"endpoint_url"`
	AccessKey   string `json:"access_key" yaml:"access_key"`
	Secret      string `json:"secret" yaml:"secret"`
	Region      string `json:"region" yaml:"region"`
	Bucket      string `json:"bucket" yaml:"bucket"`
	Folder      string `json:"folder" yaml:"folder"`
	Expiration  int    `json:"expiration" yaml:"expiration"`
	UseLocal    *bool  `json:"use_local" yaml:"use_local"`
}

// FileConfig is the on-disk representation of Config. Only non-zero values
// override what is already in Config.
type FileConfig struct {
	EndpointAddrHTTP    string          `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN         string          `json:"database_dsn" yaml:"database_dsn"`
	SecretKey           string          `json:"secret_key" yaml:"secret_key"`
	PublicBaseURL       string          `json:"public_base_url" yaml:"public_base_url"`
	LogLevel            string          `json:"log_level" yaml:"log_level"`
	LocalRoot           string          `json:"local_root" yaml:"local_root"`
	BackendRetries      int             `json:"backend_retries" yaml:"backend_retries"`
	HostPermissionURL   string          `json:"host_permission_url" yaml:"host_permission_url"`
	PermissionCacheTTL  timex.Duration  `json:"permission_cache_ttl" yaml:"permission_cache_ttl"`
	PermissionCacheSize int             `json:"permission_cache_size" yaml:"permission_cache_size"`
	Storage             StorageSettings `json:"cloud_storage_settings" yaml:"cloud_storage_settings"`
}

// parseFile overlays the file named by -c/-config (or $CLOUDSTORE_CONFIG)
// onto config. Files ending in .yaml/.yml are decoded as YAML, everything
// else as JSON. No file means no changes.
func parseFile(config *Config) error {
	path := flagx.ConfigFilePath()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.PublicBaseURL, fc.PublicBaseURL)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LocalRoot, fc.LocalRoot)
	setString(&c.HostPermissionURL, fc.HostPermissionURL)
	if fc.BackendRetries > 0 {
		c.BackendRetries = fc.BackendRetries
	}
	if fc.PermissionCacheTTL.Duration > 0 {
		c.PermissionCacheTTL = fc.PermissionCacheTTL.Duration
	}
	if fc.PermissionCacheSize > 0 {
		c.PermissionCacheSize = fc.PermissionCacheSize
	}

	s := fc.Storage
	setString(&c.S3EndpointURL, s.EndpointURL)
	setString(&c.S3AccessKey, s.AccessKey)
	setString(&c.S3Secret, s.Secret)
	setString(&c.S3Region, s.Region)
	setString(&c.S3Bucket, s.Bucket)
	setString(&c.S3Folder, s.Folder)
	if s.Expiration > 0 {
		c.PresignExpiration = time.Duration(s.Expiration) * time.Second
	}
	if s.UseLocal != nil {
		c.UseLocal = *s.UseLocal
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
