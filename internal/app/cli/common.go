package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/soluris/lexrag/internal/platform/container"
	"github.com/soluris/lexrag/internal/platform/logger"
	"github.com/soluris/lexrag/internal/platform/metrics"
	"github.com/soluris/lexrag/pkg/config"
)

// CommonFlags はすべてのコマンドが受け付けるフラグ
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Prometheusメトリクスの公開アドレス（例: :9090、省略時は METRICS_ADDR）",
		},
	}
}

// AppOptions は AppContext 作成時のオプション
type AppOptions struct {
	MetricsAddr      string
	ContainerOptions []container.ContainerOption
}

// optionsFromCommand は共通フラグから AppOptions を組み立てる
func optionsFromCommand(cmd *cli.Command) AppOptions {
	return AppOptions{MetricsAddr: cmd.String("metrics-addr")}
}

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
	Metrics   *metrics.Recorder

	stopMetrics func()
}

// NewAppContext は設定ファイルを読み込み、コンテナを組み立てて AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, opts AppOptions) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.FromStrings(cfg.Log.Level, cfg.Log.Format))

	appCtx := &AppContext{
		Config:  cfg,
		Metrics: metrics.New(),
	}

	addr := opts.MetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		stop, err := appCtx.Metrics.Serve(ctx, addr, appLogger)
		if err != nil {
			return nil, fmt.Errorf("メトリクスサーバの起動に失敗: %w", err)
		}
		appCtx.stopMetrics = stop
	}

	containerOpts := append([]container.ContainerOption{
		container.WithContainerLogger(appLogger),
		container.WithContainerMetrics(appCtx.Metrics),
	}, opts.ContainerOptions...)

	cont, err := container.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		appCtx.Close()
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}
	appCtx.Container = cont

	return appCtx, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
	if ac.stopMetrics != nil {
		ac.stopMetrics()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}
