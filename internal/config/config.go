// Package config handles configuration loading for the IHE gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows secrets such as
// key passwords and object store credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP listener (port, TLS, base path, inbound rate limit)
//   - gateway: local community identity and inbound behavior
//   - signing: SAML signing identity (PEM files or a PKCS#12 bundle)
//   - outbound: per transaction timeouts, fan-out and retry settings
//   - correlation: where outbound results wait for hand-off
//   - storage: S3 compatible object store for document payloads
//   - internalApi: the business tier inbound requests are delegated to
//   - directory: how home community ids resolve to endpoints
//   - oauth2: bearer token validation for the outbound API
//   - logging: level and format
//
// # Example Configuration
//
//	server:
//	  port: 8443
//	  tls:
//	    enabled: true
//	    certFile: /etc/ssl/gateway.crt
//	    keyFile: /etc/ssl/gateway.key
//
//	gateway:
//	  homeCommunityId: 2.16.840.1.113883.3.9621
//	  organizationName: Metriport
//
//	signing:
//	  mode: pkcs12
//	  pkcs12File: /etc/ihe/signing.p12
//	  password: ${SIGNING_PASSWORD}
//
//	correlation:
//	  backend: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//
//	internalApi:
//	  baseUrl: http://api.internal:8080
//
// See [Load] for loading configuration from a file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Signing     SigningConfig     `yaml:"signing"`
	Outbound    OutboundConfig    `yaml:"outbound"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Storage     StorageConfig     `yaml:"storage"`
	InternalAPI InternalAPIConfig `yaml:"internalApi"`
	Directory   DirectoryConfig   `yaml:"directory"`
	OAuth2      OAuth2Config      `yaml:"oauth2"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	BasePath string `yaml:"basePath"`
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile" validate:"required_if=Enabled true"`
		KeyFile  string `yaml:"keyFile" validate:"required_if=Enabled true"`
		// ClientCAFile enables mutual TLS for inbound requests
		ClientCAFile string `yaml:"clientCaFile"`
	} `yaml:"tls"`
	// InboundRateLimit caps inbound requests per client IP per minute.
	// Zero disables the limit.
	InboundRateLimit int           `yaml:"inboundRateLimit" validate:"min=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout"`
}

// GatewayConfig identifies the local community
type GatewayConfig struct {
	HomeCommunityID  string `yaml:"homeCommunityId" validate:"required"`
	OrganizationName string `yaml:"organizationName" validate:"required"`
	// ProcessingCodes are the XCPD processingCode values accepted inbound
	ProcessingCodes []string `yaml:"processingCodes" validate:"dive,oneof=P T D"`
	// MultipartResponses answers MTOM retrieval requests with MTOM
	MultipartResponses bool `yaml:"multipartResponses"`
	// Schemas are XSD entry points per inbound transaction; empty skips
	// validation
	Schemas struct {
		PatientDiscovery  string `yaml:"xcpd"`
		DocumentQuery     string `yaml:"xcadq"`
		DocumentRetrieval string `yaml:"xcadr"`
	} `yaml:"schemas"`
	// Assertion fills SAML attributes requests do not carry
	Assertion AssertionConfig `yaml:"assertion"`
}

// AssertionConfig holds default SAML attribute values
type AssertionConfig struct {
	SubjectID      string `yaml:"subjectId"`
	SubjectRole    string `yaml:"subjectRole"`
	Organization   string `yaml:"organization"`
	OrganizationID string `yaml:"organizationId"`
	PurposeOfUse   string `yaml:"purposeOfUse"`
	// Issuer and NameID override what the signing certificate provides
	Issuer string `yaml:"issuer"`
	NameID string `yaml:"nameId"`
}

// Signing modes
const (
	SigningNone   = "none"
	SigningPEM    = "pem"
	SigningPKCS12 = "pkcs12"
)

// SigningConfig holds the signing identity settings
type SigningConfig struct {
	// Mode selects how the key pair is loaded
	//   - "pem": certificate and private key PEM files
	//   - "pkcs12": a password protected PKCS#12 bundle
	//   - "none": outbound requests are sent unsigned (testing only)
	Mode       string `yaml:"mode" validate:"oneof=none pem pkcs12"`
	CertFile   string `yaml:"certFile" validate:"required_if=Mode pem"`
	KeyFile    string `yaml:"keyFile" validate:"required_if=Mode pem"`
	PKCS12File string `yaml:"pkcs12File" validate:"required_if=Mode pkcs12"`
	Password   string `yaml:"password"`
}

// OutboundConfig holds initiating gateway settings
type OutboundConfig struct {
	PatientDiscoveryTimeout  time.Duration `yaml:"patientDiscoveryTimeout"`
	DocumentQueryTimeout     time.Duration `yaml:"documentQueryTimeout"`
	DocumentRetrievalTimeout time.Duration `yaml:"documentRetrievalTimeout"`
	Concurrency              int           `yaml:"concurrency" validate:"min=0"`
	MaxAttempts              int           `yaml:"maxAttempts" validate:"min=0,max=10"`
	RetryDelay               time.Duration `yaml:"retryDelay"`
	// GatewayRate limits requests per second to a single gateway
	GatewayRate  float64 `yaml:"gatewayRate" validate:"min=0"`
	GatewayBurst int     `yaml:"gatewayBurst" validate:"min=0"`
	// ProcessingCode is sent in outbound XCPD requests
	ProcessingCode string `yaml:"processingCode" validate:"omitempty,oneof=P T D"`
	TLS            struct {
		// CAFile replaces the system roots for gateway certificates
		CAFile string `yaml:"caFile"`
		// ClientCertFile and ClientKeyFile present a client certificate
		ClientCertFile string `yaml:"clientCertFile" validate:"required_with=ClientKeyFile"`
		ClientKeyFile  string `yaml:"clientKeyFile" validate:"required_with=ClientCertFile"`
	} `yaml:"tls"`
}

// Correlation backends
const (
	BackendMemory  = "memory"
	BackendMongoDB = "mongodb"
	BackendRedis   = "redis"
)

// CorrelationConfig selects the store outbound results wait in
type CorrelationConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=memory mongodb redis"`
	Retention time.Duration `yaml:"retention"`
	MongoDB   MongoDBConfig `yaml:"mongodb"`
	Redis     RedisConfig   `yaml:"redis"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StorageConfig holds document payload storage settings
type StorageConfig struct {
	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds S3 compatible object store settings. An empty
// endpoint disables the store.
type MinIOConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"accessKey"`
	SecretKey  string        `yaml:"secretKey"`
	Region     string        `yaml:"region"`
	Bucket     string        `yaml:"bucket" validate:"required_with=Endpoint"`
	UseSSL     bool          `yaml:"useSsl"`
	PresignTTL time.Duration `yaml:"presignTtl"`
	// ResultsBucket receives a JSON copy of every patient discovery
	// result. Empty disables the archive.
	ResultsBucket string `yaml:"resultsBucket" validate:"excluded_without=Endpoint"`
}

// InternalAPIConfig holds the business tier settings
type InternalAPIConfig struct {
	BaseURL string        `yaml:"baseUrl" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout"`
	// ForwardInterval is how often finished outbound results are handed off
	ForwardInterval time.Duration `yaml:"forwardInterval"`
	// MaxWait hands off incomplete results once they are this old
	MaxWait time.Duration `yaml:"maxWait"`
}

// DirectoryConfig lists known gateways and where to look up the rest
type DirectoryConfig struct {
	URL      string         `yaml:"url" validate:"omitempty,url"`
	CacheTTL time.Duration  `yaml:"cacheTtl"`
	Gateways []GatewayEntry `yaml:"gateways" validate:"dive"`
}

// GatewayEntry is a statically configured remote community
type GatewayEntry struct {
	HomeCommunityID   string `yaml:"homeCommunityId" validate:"required"`
	Name              string `yaml:"name"`
	PatientDiscovery  string `yaml:"xcpd" validate:"omitempty,url"`
	DocumentQuery     string `yaml:"xcadq" validate:"omitempty,url"`
	DocumentRetrieval string `yaml:"xcadr" validate:"omitempty,url"`
}

// OAuth2Config holds bearer token settings for the outbound API. An empty
// issuer disables authentication.
type OAuth2Config struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSUrl  string `yaml:"jwksUrl" validate:"required_with=Issuer"`
	// Scope, when set, must be granted to the caller
	Scope string `yaml:"scope"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// SlogLevel maps Level to a slog level
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if len(c.Gateway.ProcessingCodes) == 0 {
		c.Gateway.ProcessingCodes = []string{"P"}
	}
	if c.Gateway.Assertion.Organization == "" {
		c.Gateway.Assertion.Organization = c.Gateway.OrganizationName
	}
	if c.Gateway.Assertion.OrganizationID == "" {
		c.Gateway.Assertion.OrganizationID = c.Gateway.HomeCommunityID
	}
	if c.Gateway.Assertion.PurposeOfUse == "" {
		c.Gateway.Assertion.PurposeOfUse = "TREATMENT"
	}
	if c.Signing.Mode == "" {
		c.Signing.Mode = SigningNone
	}
	if c.Outbound.ProcessingCode == "" {
		c.Outbound.ProcessingCode = "P"
	}
	if c.Correlation.Backend == "" {
		c.Correlation.Backend = BackendMemory
	}
	if c.Correlation.Retention == 0 {
		c.Correlation.Retention = 24 * time.Hour
	}
	if c.Correlation.MongoDB.Database == "" {
		c.Correlation.MongoDB.Database = "ihe_gateway"
	}
	if c.Correlation.MongoDB.Collection == "" {
		c.Correlation.MongoDB.Collection = "outbound_results"
	}
	if c.Correlation.Redis.Prefix == "" {
		c.Correlation.Redis.Prefix = "ihe-gateway"
	}
	if c.Storage.MinIO.PresignTTL == 0 {
		c.Storage.MinIO.PresignTTL = 10 * time.Minute
	}
	if c.InternalAPI.Timeout == 0 {
		c.InternalAPI.Timeout = 30 * time.Second
	}
	if c.InternalAPI.ForwardInterval == 0 {
		c.InternalAPI.ForwardInterval = 5 * time.Second
	}
	if c.InternalAPI.MaxWait == 0 {
		c.InternalAPI.MaxWait = 10 * time.Minute
	}
	if c.Directory.CacheTTL == 0 {
		c.Directory.CacheTTL = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Correlation.Backend {
	case BackendMongoDB:
		if c.Correlation.MongoDB.URI == "" {
			return errors.New("correlation.mongodb.uri is required when backend is 'mongodb'")
		}
	case BackendRedis:
		if c.Correlation.Redis.Address == "" {
			return errors.New("correlation.redis.address is required when backend is 'redis'")
		}
	}

	if c.InternalAPI.MaxWait < c.InternalAPI.ForwardInterval {
		return errors.New("internalApi.maxWait must not be shorter than internalApi.forwardInterval")
	}

	seen := make(map[string]bool, len(c.Directory.Gateways))
	for _, gw := range c.Directory.Gateways {
		if seen[gw.HomeCommunityID] {
			return fmt.Errorf("directory.gateways: duplicate homeCommunityId %s", gw.HomeCommunityID)
		}
		seen[gw.HomeCommunityID] = true
	}

	return nil
}
