package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version はビルド時に-ldflagsで上書きされる。
var Version = "dev"

// サブコマンド名
const (
	// CommandServe はAPIサーバーモードで起動する。
	CommandServe = "serve"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck = "healthcheck"
)

// NewRootCommand はtracyのコマンドツリーを返す。
// サブコマンドを省略した場合はserveとして起動する。
// wはログの出力先（nilの場合は標準出力）。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tracy",
		Short:         "Tracy AI backend API",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), w)
		},
	}

	root.AddCommand(serveCmd(w))
	root.AddCommand(migrateCmd(w))
	root.AddCommand(healthcheckCmd())

	return root
}

func serveCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), w)
		},
	}
}

func migrateCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg)
		},
	}
}

// healthcheckCmd は軽量サブコマンドのため、設定の読み込みを行わない。
func healthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Probe the local /healthz endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "port the API server listens on")

	return cmd
}

func serve(ctx context.Context, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return runServe(ctx, cfg)
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMでコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signalContext(context.Background())
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
