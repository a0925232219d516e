package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/fior4neee/Message-Broadcasting/pkg/client/ui"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

type clientFlags struct {
	configPath string
	debugLog   string
	plain      bool
	noNotify   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "chatclient <nickname> [host:port]",
		Short: "Join a chat room",
		Long: `chatclient connects to a chat server, logs in under <nickname> and opens
the chat room. The server address defaults to the config file's
default_server. ws://host:port and wss://host:port use the WebSocket endpoint.

Type /help in the room for the list of commands.`,
		Version:       Version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args, flags, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", client.DefaultConfigPath(), "Path to config file")
	cmd.Flags().StringVar(&flags.debugLog, "debug-log", "", "Write connection debug log to this file")
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "Line-oriented output instead of the full-screen UI")
	cmd.Flags().BoolVar(&flags.noNotify, "no-notify", false, "Disable desktop notifications on mentions")

	return cmd
}

func run(ctx context.Context, args []string, flags clientFlags, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := client.LoadClientConfig(flags.configPath)
	if err != nil {
		return err
	}

	var logger *log.Logger
	if flags.debugLog != "" {
		f, err := os.OpenFile(flags.debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open debug log: %w", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	}

	addr := config.GetServerAddress()
	if len(args) > 1 {
		addr = args[1]
	}

	input := bufio.NewReader(stdin)
	opts := config.Options(args[0])
	opts.Prompt = promptNickname(input, stdout)

	c, err := client.Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	c.SetLogger(logger)
	fmt.Fprintf(stdout, "[CLIENT] Connected to server %s\n", c.Addr())

	if err := c.Login(ctx); err != nil {
		return fmt.Errorf("could not log in: %w", err)
	}

	if flags.plain {
		return runPlain(ctx, c, input, stdout, config.TimeFormat())
	}

	var notifier ui.Notifier
	if config.UI.NotifyOnMention && !flags.noNotify {
		notifier = ui.DesktopNotifier
	}
	model := ui.NewModel(c, ui.Options{
		TimeFormat: config.TimeFormat(),
		Notifier:   notifier,
		Logger:     logger,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

// promptNickname asks on the terminal for another nickname after a failed attempt
func promptNickname(input *bufio.Reader, out io.Writer) client.NicknamePrompt {
	return func(attempt int, lastErr error) (string, error) {
		if lastErr != nil {
			fmt.Fprintf(out, "[ERROR] Login failed: %v\n", lastErr)
		}
		fmt.Fprint(out, "Enter a new nickname: ")
		line, err := input.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading nickname: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
}
