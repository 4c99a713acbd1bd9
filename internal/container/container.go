// Package container wires the server components using go.uber.org/dig.
package container

import (
	"go.uber.org/dig"

	"scanopy-mcp/internal/server"
	"scanopy-mcp/pkg/config"
	"scanopy-mcp/pkg/gateway"
	"scanopy-mcp/pkg/logging"
	"scanopy-mcp/pkg/monitor"
	"scanopy-mcp/pkg/openapi"
	"scanopy-mcp/pkg/policy"
	"scanopy-mcp/pkg/tools"
)

// Container holds the resolved singletons. Callers use the typed getters and
// never import dig directly.
type Container struct {
	cfg        *config.Config
	logs       *logging.LoggingManager
	loader     *openapi.Loader
	manager    *tools.ToolManager
	dispatcher *tools.Dispatcher
	server     *server.MCPServer
}

func (c *Container) Config() *config.Config                  { return c.cfg }
func (c *Container) LoggingManager() *logging.LoggingManager { return c.logs }
func (c *Container) Loader() *openapi.Loader                 { return c.loader }
func (c *Container) ToolManager() *tools.ToolManager         { return c.manager }
func (c *Container) Dispatcher() *tools.Dispatcher           { return c.dispatcher }
func (c *Container) Server() *server.MCPServer               { return c.server }

// New builds and wires every component from cfg
func New(cfg *config.Config, logs *logging.LoggingManager) (*Container, error) {
	d := dig.New()

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *logging.LoggingManager { return logs },
		newLoader,
		newAllowlist,
		newGuard,
		newGateway,
		newToolManager,
		newDispatcher,
		newMonitor,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		loader *openapi.Loader,
		manager *tools.ToolManager,
		dispatcher *tools.Dispatcher,
		srv *server.MCPServer,
	) {
		result = &Container{
			cfg:        cfg,
			logs:       logs,
			loader:     loader,
			manager:    manager,
			dispatcher: dispatcher,
			server:     srv,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newLoader(cfg *config.Config, logs *logging.LoggingManager) *openapi.Loader {
	logger := logs.GetLogger("openapi")
	if cfg.OpenAPIFile != "" {
		return openapi.NewFileLoader(cfg.OpenAPIFile, cfg.OpenAPITTL, logger)
	}
	return openapi.NewURLLoader(cfg.OpenAPIURL, cfg.OpenAPITTL, logger)
}

func newAllowlist(cfg *config.Config) *policy.Allowlist {
	return policy.NewAllowlist(cfg.WriteAllowlist...)
}

func newGuard(cfg *config.Config, allowlist *policy.Allowlist) *policy.Guard {
	return policy.NewGuard(allowlist, cfg.ConfirmString)
}

func newGateway(cfg *config.Config, logs *logging.LoggingManager) *gateway.Client {
	return gateway.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logs.GetLogger("gateway"))
}

func newToolManager(loader *openapi.Loader, allowlist *policy.Allowlist, logs *logging.LoggingManager) *tools.ToolManager {
	return tools.NewToolManager(loader, allowlist, logs.GetLogger("tools"))
}

func newDispatcher(manager *tools.ToolManager, guard *policy.Guard, gw *gateway.Client, logs *logging.LoggingManager) *tools.Dispatcher {
	return tools.NewDispatcher(manager, guard, gw, logs)
}

// newMonitor returns nil when there is no local document to watch or the
// platform watcher cannot be created; the server then runs without it.
func newMonitor(cfg *config.Config, logs *logging.LoggingManager) *monitor.FileSystemMonitor {
	if cfg.OpenAPIFile == "" {
		return nil
	}
	fsm, err := monitor.NewFileSystemMonitor(logs.GetLogger("monitor"))
	if err != nil {
		logs.LogError("container", err, "Failed to create file system monitor", map[string]interface{}{
			"path": cfg.OpenAPIFile,
		})
		return nil
	}
	return fsm
}

func newServer(
	cfg *config.Config,
	logs *logging.LoggingManager,
	loader *openapi.Loader,
	manager *tools.ToolManager,
	dispatcher *tools.Dispatcher,
	fsm *monitor.FileSystemMonitor,
) *server.MCPServer {
	return server.NewMCPServer(server.Options{
		Config:         cfg,
		Loader:         loader,
		Manager:        manager,
		Dispatcher:     dispatcher,
		Monitor:        fsm,
		LoggingManager: logs,
	})
}
