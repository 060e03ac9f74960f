package archive

import (
	"net/http"
	"strings"
	"time"
)

// Default endpoints of the public archive.
const (
	DefaultS3Endpoint  = "https://s3.us.archive.org"
	DefaultMetadataURL = "https://archive.org"
	DefaultRegion      = "us-east-1"
)

// Config configures an S3Service.
//
// The archive speaks a subset of the S3 protocol. Requests are authorized
// with a "LOW access:secret" header rather than a SigV4 signature, items are
// buckets, and item metadata travels in x-archive-meta-* headers.
type Config struct {
	// Endpoint is the S3-compatible upload endpoint.
	Endpoint string

	// MetadataURL is the base URL of the metadata read/write API.
	MetadataURL string

	// AccessKey and SecretKey are the archive account's S3 keys.
	AccessKey string
	SecretKey string

	// Region is only used to satisfy the SDK; the archive ignores it.
	Region string

	// Scanner is written into every item's scanner metadata field.
	Scanner string

	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return &ConfigError{Field: "AccessKey/SecretKey", Message: "both access key and secret key must be provided together"}
	}
	if c.AccessKey == "" {
		return &ConfigError{Field: "AccessKey", Message: "archive credentials are required"}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = DefaultS3Endpoint
	}
	if strings.TrimSpace(c.MetadataURL) == "" {
		c.MetadataURL = DefaultMetadataURL
	}
	c.MetadataURL = strings.TrimRight(c.MetadataURL, "/")
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Scanner == "" {
		c.Scanner = "dumpkeeper"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}
