// Package mcp provides an MCP (Model Context Protocol) server for carbon.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/carbon-oracle/internal/config"
	"github.com/nvandessel/carbon-oracle/internal/metrics"
	"github.com/nvandessel/carbon-oracle/internal/ratelimit"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/store"
)

// Server wraps the MCP SDK server and exposes the carbon lab as tools.
type Server struct {
	server    *sdk.Server
	store     store.ExperimentStore
	ownsStore bool
	root      string
	carbon    *config.CarbonConfig
	analyst   *report.Analyst
	metrics   *metrics.Metrics
	log       *slog.Logger

	// runMu serializes batch runs so batch ids stay sequential.
	runMu sync.Mutex

	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "carbon")
	Version string // Server version
	Root    string // Project root directory

	// Carbon is the lab configuration. Nil loads it from Root.
	Carbon *config.CarbonConfig

	// Store overrides the project's SQLite store. The server does not close
	// a store it was handed.
	Store store.ExperimentStore

	// Analyst writes batch reports; nil disables them.
	Analyst *report.Analyst

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewServer creates a new MCP server with carbon tools.
func NewServer(cfg *Config) (*Server, error) {
	carbonDir, err := store.EnsureCarbonDir(cfg.Root)
	if err != nil {
		return nil, err
	}

	carbonCfg := cfg.Carbon
	if carbonCfg == nil {
		carbonCfg, err = config.Load(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := carbonCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	expStore := cfg.Store
	ownsStore := false
	if expStore == nil {
		sqlStore, err := store.NewSQLiteStore(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open experiment store: %w", err)
		}
		expStore = sqlStore
		ownsStore = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        expStore,
		ownsStore:    ownsStore,
		root:         cfg.Root,
		carbon:       carbonCfg,
		analyst:      cfg.Analyst,
		metrics:      cfg.Metrics,
		log:          logger,
		toolLimiters: ratelimit.NewToolLimiters(ratelimit.DefaultToolLimits),
		auditLogger:  NewAuditLogger(carbonDir),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the audit log and any store the server opened.
func (s *Server) Close() error {
	var firstErr error
	if err := s.auditLogger.Close(); err != nil {
		firstErr = err
	}
	s.auditLogger = nil
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.ownsStore = false
	}
	return firstErr
}
