// Parley - terminal client for the agent backend
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/parleyhq/parley/internal/client"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/store"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Terminal client for the agent backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr; stdout belongs to the conversation.
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))
			slog.SetDefault(logger)

			if err := godotenv.Load(); err != nil {
				slog.Info("No .env file found, using environment variables")
			}
		},
	}

	root.AddCommand(newChatCmd())
	root.AddCommand(newSessionsCmd())
	return root
}

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return runChat(cfg, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "resume a persisted session by id")
	return cmd
}

func runChat(cfg *config.Config, sessionID string) error {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	userID, err := identity.LoadOrCreate(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	slog.Info("Identity loaded", "user_id", userID)

	cli := client.New(cfg, repo, userID)
	p := newPrinter(cli, os.Stdout)
	cli.SetOnChange(p.render)

	if sessionID != "" {
		if err := cli.SwitchSession(context.Background(), sessionID); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		p.replay()
	}

	cli.Connect()
	defer cli.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("commands: /new /sessions /switch <id> /tool <name> [json] /cancel /yes <id> /no <id> /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, cli, repo, p, line); quit {
				return nil
			}
		}
	}
}

// handleLine interprets one input line, either a slash command or a
// message to send. Returns true when the loop should exit.
func handleLine(ctx context.Context, cli *client.Client, repo store.Repository, p *printer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		cli.Send(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		cli.NewSession()
		fmt.Println("-- new session --")

	case "/sessions":
		sessions, err := repo.ListSessions(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s\n", s.SessionID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
		}

	case "/switch":
		if len(fields) < 2 {
			fmt.Println("usage: /switch <session-id>")
			break
		}
		if err := cli.SwitchSession(ctx, fields[1]); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		p.replay()

	case "/tool":
		if len(fields) < 2 {
			fmt.Println("usage: /tool <name> [json-params]")
			break
		}
		var params json.RawMessage
		if len(fields) > 2 {
			raw := strings.Join(fields[2:], " ")
			if !json.Valid([]byte(raw)) {
				fmt.Println("params must be valid JSON")
				break
			}
			params = json.RawMessage(raw)
		}
		if !cli.CallTool(fields[1], params) {
			fmt.Println("tool call not sent, connection not open")
		}

	case "/cancel":
		cli.Cancel()

	case "/yes", "/no":
		if len(fields) < 2 {
			fmt.Printf("usage: %s <confirmation-id>\n", fields[0])
			break
		}
		cli.RespondToConfirmation(fields[1], fields[0] == "/yes")

	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
	return false
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer func() {
				if closeErr := repo.Close(); closeErr != nil {
					slog.Error("Failed to close repository", "error", closeErr)
				}
			}()

			sessions, err := repo.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  %s\n", s.SessionID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
}
