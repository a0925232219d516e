package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fior4neee/Message-Broadcasting/pkg/server"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

type serverFlags struct {
	configPath string
	host       string
	port       int
	httpPort   int
	debug      bool
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "chatserver",
		Short: "Run the chat relay server",
		Long: `chatserver accepts framed TCP connections, registers each client under a
unique nickname and relays chat messages to everyone in the room.

With --http-port set it also serves /metrics, /healthz and a WebSocket
endpoint at /ws.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return run(config, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "~/.chat/server.toml", "Path to config file")
	cmd.Flags().StringVar(&flags.host, "host", "", "Address to bind (overrides config)")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "TCP port to listen on (overrides config)")
	cmd.Flags().IntVar(&flags.httpPort, "http-port", 0, "HTTP port for metrics, health and WebSocket, 0 disables (overrides config)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	return cmd
}

// resolveConfig loads the config file and applies flags the user set explicitly
func resolveConfig(cmd *cobra.Command) (server.ServerConfig, error) {
	fs := cmd.Flags()
	configPath, _ := fs.GetString("config")

	tomlConfig, err := server.LoadConfig(configPath)
	if err != nil {
		return server.ServerConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	config := tomlConfig.ToServerConfig()

	if fs.Changed("host") {
		config.Host, _ = fs.GetString("host")
	}
	if fs.Changed("port") {
		config.TCPPort, _ = fs.GetInt("port")
	}
	if fs.Changed("http-port") {
		config.HTTPPort, _ = fs.GetInt("http-port")
	}

	return config, config.Validate()
}

func run(config server.ServerConfig, flags serverFlags) error {
	srv, err := server.NewServer(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if flags.debug {
		srv.EnableDebugLogging(os.Stderr)
	}

	log.Printf("Config: %s (using defaults if not found)", flags.configPath)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Printf("Chat server %s started successfully", Version)
	log.Printf("Available connection methods:")
	log.Printf("  - Binary Protocol (TCP): %s", srv.Addr())
	if addr := srv.HTTPAddr(); addr != nil {
		log.Printf("  - WebSocket: ws://%s/ws", addr)
		log.Printf("  - Metrics: http://%s/metrics", addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
	return nil
}
