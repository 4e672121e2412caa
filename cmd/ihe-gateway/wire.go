package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/metriport/ihe-gateway/internal/api"
	"github.com/metriport/ihe-gateway/internal/auth"
	"github.com/metriport/ihe-gateway/internal/config"
	"github.com/metriport/ihe-gateway/internal/forwarder"
	"github.com/metriport/ihe-gateway/internal/gateway"
	"github.com/metriport/ihe-gateway/internal/server"
	"github.com/metriport/ihe-gateway/internal/storage"
	"github.com/metriport/ihe-gateway/internal/storage/mongodb"
	"github.com/metriport/ihe-gateway/internal/storage/redis"
	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/directory"
	"github.com/metriport/ihe-gateway/pkg/docstore"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/outbound"
	"github.com/metriport/ihe-gateway/pkg/security"
	"github.com/metriport/ihe-gateway/pkg/transport"
)

type app struct {
	server     *server.Server
	dispatcher *outbound.Dispatcher
	forwarder  *forwarder.Forwarder
	store      correlation.Store
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	kp, err := loadKeyPair(cfg.Signing)
	if err != nil {
		return nil, err
	}
	var signer outbound.Signer
	if kp != nil {
		s, err := security.NewSigner(kp.Signer, kp.Certificate)
		if err != nil {
			return nil, err
		}
		signer = s
		info := kp.Info()
		logger.Info("signing key loaded",
			"algorithm", info.Algorithm,
			"key_size", info.KeySize,
			"subject", info.CertificateSubject,
			"not_after", info.NotAfter)
	} else {
		logger.Warn("signing disabled - outbound requests are sent without a SAML assertion")
	}

	store, err := storage.Open(ctx, storage.Config{
		Backend:   cfg.Correlation.Backend,
		Retention: cfg.Correlation.Retention,
		MongoDB: mongodb.Config{
			URI:        cfg.Correlation.MongoDB.URI,
			Database:   cfg.Correlation.MongoDB.Database,
			Collection: cfg.Correlation.MongoDB.Collection,
		},
		Redis: redis.Config{
			Addr:     cfg.Correlation.Redis.Address,
			Password: cfg.Correlation.Redis.Password,
			DB:       cfg.Correlation.Redis.DB,
			Prefix:   cfg.Correlation.Redis.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening correlation store: %w", err)
	}

	var docs *docstore.Store
	if m := cfg.Storage.MinIO; m.Endpoint != "" {
		docs, err = docstore.New(docstore.Config{
			Endpoint:   m.Endpoint,
			AccessKey:  m.AccessKey,
			SecretKey:  m.SecretKey,
			Region:     m.Region,
			Bucket:     m.Bucket,
			UseSSL:     m.UseSSL,
			PresignTTL: m.PresignTTL,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening document store: %w", err)
		}
		if err := docs.Ping(ctx); err != nil {
			logger.Warn("document store not reachable", "endpoint", m.Endpoint, "error", err)
		}
	}

	sender, err := newSender(cfg.Outbound, logger)
	if err != nil {
		return nil, err
	}

	defaults := assertionDefaults(cfg.Gateway)
	opts := []outbound.Option{outbound.WithStore(store)}
	if dir := newDirectory(cfg.Directory); dir != nil {
		opts = append(opts, outbound.WithDirectory(dir))
	}
	if docs != nil {
		opts = append(opts, outbound.WithDocumentSink(docs))
		if bucket := cfg.Storage.MinIO.ResultsBucket; bucket != "" {
			opts = append(opts, outbound.WithResultArchive(docs.Archive(bucket)))
		}
	}
	dispatcher := outbound.New(outbound.Config{
		HomeCommunityID:          cfg.Gateway.HomeCommunityID,
		OrganizationName:         cfg.Gateway.OrganizationName,
		ProcessingCode:           cfg.Outbound.ProcessingCode,
		Assertion:                defaults,
		AssertionIssuer:          cfg.Gateway.Assertion.Issuer,
		NameID:                   cfg.Gateway.Assertion.NameID,
		PatientDiscoveryTimeout:  cfg.Outbound.PatientDiscoveryTimeout,
		DocumentQueryTimeout:     cfg.Outbound.DocumentQueryTimeout,
		DocumentRetrievalTimeout: cfg.Outbound.DocumentRetrievalTimeout,
		Concurrency:              cfg.Outbound.Concurrency,
		MaxAttempts:              cfg.Outbound.MaxAttempts,
		RetryDelay:               cfg.Outbound.RetryDelay,
		GatewayRate:              cfg.Outbound.GatewayRate,
		GatewayBurst:             cfg.Outbound.GatewayBurst,
		Logger:                   logger.With("component", "outbound"),
	}, sender, signer, opts...)

	apiClient := api.NewClient(api.Config{
		BaseURL:    cfg.InternalAPI.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.InternalAPI.Timeout},
	})

	fwd := forwarder.New(store, apiClient, &forwarder.Config{
		PollInterval: cfg.InternalAPI.ForwardInterval,
		MaxWait:      cfg.InternalAPI.MaxWait,
	}, logger.With("component", "forwarder"))

	validators, err := newValidators(cfg.Gateway)
	if err != nil {
		return nil, err
	}
	handlerCfg := &gateway.Config{
		HomeCommunityID:    cfg.Gateway.HomeCommunityID,
		OrganizationName:   cfg.Gateway.OrganizationName,
		ProcessingCodes:    cfg.Gateway.ProcessingCodes,
		Defaults:           defaults,
		MultipartResponses: cfg.Gateway.MultipartResponses,
		Validators:         validators,
		Backend:            apiClient,
		Documents:          docstore.NewFetcher(&http.Client{Timeout: cfg.InternalAPI.Timeout}),
		Logger:             logger.With("component", "inbound"),
	}
	if docs != nil {
		handlerCfg.Presigner = docs
	}

	srv := server.New(cfg.Server, server.Components{
		Dispatcher: dispatcher,
		Inbound:    gateway.NewHandler(handlerCfg),
		Store:      store,
		Auth:       auth.NewAuthenticator(cfg.OAuth2, logger.With("component", "auth")),
	}, logger)

	return &app{
		server:     srv,
		dispatcher: dispatcher,
		forwarder:  fwd,
		store:      store,
	}, nil
}

func assertionDefaults(cfg config.GatewayConfig) ihe.SecurityAssertion {
	a := cfg.Assertion
	return ihe.SecurityAssertion{
		SubjectID:       a.SubjectID,
		SubjectRole:     ihe.Code{Code: a.SubjectRole},
		Organization:    a.Organization,
		OrganizationID:  a.OrganizationID,
		HomeCommunityID: cfg.HomeCommunityID,
		PurposeOfUse:    a.PurposeOfUse,
	}
}

// newSender builds the gateway-facing client. Timeouts come from the
// per-transaction contexts.
func newSender(cfg config.OutboundConfig, logger *slog.Logger) (*transport.HTTPSClient, error) {
	tc := transport.DefaultHTTPSConfig()
	tc.Logger = logger.With("component", "transport")

	if cfg.TLS.CAFile != "" {
		pemData, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading outbound CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates in %s", cfg.TLS.CAFile)
		}
		tc.RootCAs = pool
	}
	if cfg.TLS.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.ClientCertFile, cfg.TLS.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading outbound client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return transport.NewHTTPSClient(tc), nil
}

// newDirectory returns nil when no gateway source is configured
func newDirectory(cfg config.DirectoryConfig) directory.Directory {
	var chain directory.Chain
	if len(cfg.Gateways) > 0 {
		entries := make([]directory.Entry, len(cfg.Gateways))
		for i, g := range cfg.Gateways {
			entries[i] = directory.Entry{
				HomeCommunityID:   g.HomeCommunityID,
				Name:              g.Name,
				PatientDiscovery:  g.PatientDiscovery,
				DocumentQuery:     g.DocumentQuery,
				DocumentRetrieval: g.DocumentRetrieval,
			}
		}
		chain = append(chain, directory.NewStatic(entries))
	}
	if cfg.URL != "" {
		chain = append(chain, directory.NewHTTPDirectory(directory.HTTPConfig{
			BaseURL:   cfg.URL,
			UserAgent: "ihe-gateway/" + version,
			CacheTTL:  cfg.CacheTTL,
		}))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func newValidators(cfg config.GatewayConfig) (map[ihe.TransactionType]message.SchemaValidator, error) {
	paths := map[ihe.TransactionType]string{
		ihe.PatientDiscovery:  cfg.Schemas.PatientDiscovery,
		ihe.DocumentQuery:     cfg.Schemas.DocumentQuery,
		ihe.DocumentRetrieval: cfg.Schemas.DocumentRetrieval,
	}
	validators := make(map[ihe.TransactionType]message.SchemaValidator)
	for tx, path := range paths {
		if path == "" {
			continue
		}
		v, err := message.NewSchemaValidator(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s schema: %w", tx, err)
		}
		validators[tx] = v
	}
	return validators, nil
}
