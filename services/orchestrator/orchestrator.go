// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator provides the guarded conversation service.
//
// This package contains the main Orchestrator type that coordinates all
// components of the service: HTTP routing, the LLM client, the text
// safety pipeline, the Weaviate-backed knowledge base and conversation
// store, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12310}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ieqlabs/kbchat/services/guardrail"
	"github.com/ieqlabs/kbchat/services/guardrail/country"
	"github.com/ieqlabs/kbchat/services/guardrail/pii"
	"github.com/ieqlabs/kbchat/services/llm"
	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
	"github.com/ieqlabs/kbchat/services/orchestrator/observability"
	"github.com/ieqlabs/kbchat/services/orchestrator/registry"
	"github.com/ieqlabs/kbchat/services/orchestrator/routes"
	"github.com/ieqlabs/kbchat/services/retrieval"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files, or
// programmatically for testing. All fields except WeaviateURL have
// sensible defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "gateway", "openai"
	// Default: "gateway"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL. Required; the
	// conversation store and the knowledge base live there.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "kbchat-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// TimeBudgetSeconds is the default per-turn wall-clock budget applied
	// when the request carries none. Default: 48
	TimeBudgetSeconds float64

	// AllowedDomains is the domain-scope keyword allow-list of the input
	// guard. Empty disables domain-scope enforcement.
	AllowedDomains []string

	// RecognizerURL is the NER sidecar for PII detection. Empty degrades
	// the masker to its token-scan fallback.
	RecognizerURL string

	// RetrievalTopK is how many knowledge chunks are fetched per query.
	// Default: 4
	RetrievalTopK int

	// RegistryTTL is how long last-response registry entries live.
	// Default: 30 minutes
	RegistryTTL time.Duration

	// APIKey guards the /v1 API group when set. Empty disables
	// authentication, which is appropriate for local development only.
	APIKey string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: service configuration
//   - router: Gin HTTP engine
//   - llmClient: LLM provider client
//   - weaviateClient: vector database client
//   - machine: the per-turn state machine
//   - responses: last-response registry
//   - tracerCleanup: function to shut the tracer down on exit
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	machine        *StateMachine
	responses      *registry.ResponseRegistry
	tracerCleanup  func(context.Context)
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Connects to Weaviate and ensures the schema exists
//  5. Builds the country table, PII masker, and guardrail engine
//  6. Creates the LLM client based on backend type
//  7. Assembles the toolkit and state machine
//  8. Sets up HTTP routes
//
// Startup-construction failures (guardrail patterns, country table,
// schema creation) are fatal; the service must not come up with a
// partial safety pipeline.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	engine, resolver, err := s.buildSafetyPipeline()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build the safety pipeline: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	store := datatypes.NewWeaviateConversationStore(s.weaviateClient)
	retriever := retrieval.NewWeaviateRetriever(s.weaviateClient, s.config.RetrievalTopK)
	s.responses = registry.New(registry.WithTTL(s.config.RegistryTTL))

	toolkit := NewToolKit(s.llmClient, retriever, store, engine, resolver, observability.DefaultMetrics)
	s.machine = NewStateMachine(toolkit, s.responses, observability.DefaultMetrics)

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "gateway"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "kbchat-otel-collector:4317"
	}
	if cfg.TimeBudgetSeconds <= 0 {
		cfg.TimeBudgetSeconds = DefaultTimeBudgetSeconds
	}
	if cfg.RegistryTTL <= 0 {
		cfg.RegistryTTL = registry.DefaultTTL
	}
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("kbchat-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate connects to the vector database and ensures the schema.
//
// Unlike metrics or tracing, Weaviate is not optional here: both the
// conversation store and the knowledge base live in it.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WeaviateURL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// buildSafetyPipeline constructs the country table, the PII masker, and
// the guardrail engine.
func (s *service) buildSafetyPipeline() (*guardrail.Engine, *country.Resolver, error) {
	table, err := country.BuildTable()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build the country table: %w", err)
	}
	resolver := country.NewResolver(table, 0)
	slog.Info("Country token table built", "tokens", table.Len())

	var recognizer pii.EntityRecognizer
	if s.config.RecognizerURL != "" {
		recognizer, err = pii.NewHTTPRecognizer(s.config.RecognizerURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create the entity recognizer: %w", err)
		}
	} else {
		slog.Warn("No entity recognizer configured, PII masking degrades to token scan")
	}

	masker := pii.NewMasker(recognizer, resolver, pii.MaskerConfig{})

	engine, err := guardrail.NewEngine(masker, guardrail.Config{
		AllowedDomains: s.config.AllowedDomains,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create the guardrail engine: %w", err)
	}

	return engine, resolver, nil
}

// initLLMClient creates the LLM provider client for the configured
// backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "gateway":
		var cfg llm.GatewayConfig
		cfg, err = llm.GatewayConfigFromEnv()
		if err != nil {
			return err
		}
		var tokens llm.TokenSource
		tokens, err = llm.IdPTokenSourceFromEnv()
		if err != nil {
			return err
		}
		s.llmClient, err = llm.NewGatewayClient(cfg, tokens)
		slog.Info("Using gateway LLM backend", "model", cfg.Model)
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend: %s", s.config.LLMBackend)
	}

	return err
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("kbchat-orchestrator"))

	runner := &budgetedRunner{machine: s.machine, defaultBudget: s.config.TimeBudgetSeconds}
	routes.SetupRoutes(s.router, runner, s.config.APIKey, s.config.EnableMetrics)
}

// budgetedRunner applies the server-side default budget when the request
// carries none.
type budgetedRunner struct {
	machine       *StateMachine
	defaultBudget float64
}

func (r *budgetedRunner) Run(ctx context.Context, state *datatypes.ConversationState, budgetSeconds float64) *datatypes.ConversationState {
	if budgetSeconds <= 0 {
		budgetSeconds = r.defaultBudget
	}
	return r.machine.Run(ctx, state, budgetSeconds)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.responses != nil {
		s.responses.Close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
