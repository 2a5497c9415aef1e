package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	outboundaudit "github.com/aegisrun/aegis/internal/adapter/outbound/audit"
	"github.com/aegisrun/aegis/internal/adapter/outbound/mcp"
	"github.com/aegisrun/aegis/internal/config"
	aegisagent "github.com/aegisrun/aegis/internal/domain/agent"
	domainaudit "github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/provider"
	"github.com/aegisrun/aegis/internal/domain/session"
	"github.com/aegisrun/aegis/internal/domain/validate"
	"github.com/aegisrun/aegis/internal/domain/verify"
	"github.com/aegisrun/aegis/internal/service"
)

var (
	runAgentName    string
	runTask         string
	runTaskContext  string
	runOperatorAuth string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an agent to completion on a task",
	Long: `Run loads the config file, builds the named agent (its pathguard
enforcer, tool registry, MCP connections, verification gate, and
provider), and runs it on --task to completion, printing its final
response. High-risk and MCP-owned tool calls prompt the operator on the
terminal unless the agent's verification.mode is "never".`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&runAgentName, "agent", "", "name of the agent to run (required)")
	runCmd.Flags().StringVar(&runTask, "task", "", "task description to give the agent (required)")
	runCmd.Flags().StringVar(&runTaskContext, "task-context", "", "optional context prepended to the task")
	runCmd.Flags().StringVar(&runOperatorAuth, "operator-token", "", "cleartext operator token, checked against runtime.operator_token_hash")
	_ = runCmd.MarkFlagRequired("agent")
	_ = runCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("run: loading config: %w", err)
	}

	if ok, err := service.VerifyOperatorToken(runOperatorAuth, cfg.Runtime.OperatorTokenHash); err != nil {
		return fmt.Errorf("run: checking operator token: %w", err)
	} else if !ok {
		return fmt.Errorf("run: operator token does not match runtime.operator_token_hash")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(cfg.Runtime.Operator)
	sessionID := sess.ID()

	fileLogger, err := outboundaudit.NewFileLogger(cfg.Runtime.AuditDir, sessionID, cfg.Runtime.Operator)
	if err != nil {
		return fmt.Errorf("run: opening audit log: %w", err)
	}
	logger := buildLogger(fileLogger, cfg.Runtime.QueryDB)
	defer func() {
		if cerr := logger.Close(ctx); cerr != nil {
			fmt.Fprintf(os.Stderr, "run: closing audit log: %v\n", cerr)
		}
	}()

	shutdownTracer, err := service.NewTracerProvider()
	if err != nil {
		return fmt.Errorf("run: starting tracer: %w", err)
	}
	defer func() {
		if cerr := shutdownTracer(ctx); cerr != nil {
			fmt.Fprintf(os.Stderr, "run: shutting down tracer: %v\n", cerr)
		}
	}()

	connector := mcp.NewStdioConnector(sessionID, logger)
	prompt := verify.NewStdinPrompt(os.Stdin, os.Stdout)
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)

	orch := service.NewOrchestrator(cfg, logger, sessionID, connector, buildProvider, prompt, validate.NetResolver{}, metrics)

	out, err := orch.RunAgent(ctx, runAgentName, runTask, runTaskContext)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Println(out)
	return nil
}

// buildLogger wraps fileLogger with a SQLite query index when queryDB is
// configured, or returns it unwrapped otherwise.
func buildLogger(fileLogger *outboundaudit.FileLogger, queryDB string) domainaudit.Logger {
	if queryDB == "" {
		return fileLogger
	}
	index, err := outboundaudit.OpenQueryIndex(queryDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: opening query index %q: %v (continuing without it)\n", queryDB, err)
		return fileLogger
	}
	return outboundaudit.NewIndexingLogger(fileLogger, index)
}

// buildProvider constructs the provider.Provider a given agent's
// provider.type config names. Only "gemini" is currently supported; its
// API key comes from GEMINI_API_KEY, or the env var provider.api_key_env
// names.
func buildProvider(ctx context.Context, pc aegisagent.ProviderConfig) (provider.Provider, error) {
	switch pc.Type {
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if keyEnv, ok := pc.Options["api_key_env"].(string); ok && keyEnv != "" {
			apiKey = os.Getenv(keyEnv)
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini provider: no API key (set GEMINI_API_KEY or provider.api_key_env)")
		}
		return provider.NewGeminiProvider(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
