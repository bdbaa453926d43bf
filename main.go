package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/consumer"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/proxy"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/server/routes"
	"github.com/any-hub/imgcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath    string
	checkOnly     bool
	showVersion   bool
	pruneOnly     bool
	flushNS       string
	warmFile      string
	warmPermanent bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_root"] = cfg.CacheRoot()
		fields["prune_limit"] = cfg.Global.CachePruneTriggerLimit.String()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 缓存引擎 → 运维命令或 Fiber server”顺序，
	// 保证所有请求共享同一个 LockRegistry 与 http.Client。
	httpClient := server.NewUpstreamClient(cfg)
	engine, err := cache.New(cache.Options{
		BasePath:      cfg.Global.StoragePath,
		DirName:       cfg.Global.FileDirName,
		PruneLimit:    cfg.Global.CachePruneTriggerLimit.Int64(),
		Fetcher:       httpClient,
		ContentTypes:  server.HeadResolver{Client: httpClient},
		HeaderApplier: server.CopyHeaders,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	switch {
	case opts.pruneOnly:
		return runPrune(ctx, engine)
	case opts.flushNS != "":
		return runFlush(ctx, engine, opts.flushNS)
	case opts.warmFile != "":
		return runWarm(ctx, engine, opts.warmFile, opts.warmPermanent, cfg.Global.WarmConcurrency)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache_root"] = engine.Root()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["prune_limit"] = cfg.Global.CachePruneTriggerLimit.String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, engine, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func runPrune(ctx context.Context, engine *cache.Engine) int {
	result, err := engine.PruneNow(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "淘汰失败: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func runFlush(ctx context.Context, engine *cache.Engine, raw string) int {
	ns, err := cache.ParseNamespace(raw)
	if err != nil {
		fmt.Fprintf(stdErr, "无效的命名空间: %v\n", err)
		return 2
	}
	if !engine.Flush(ctx, ns) {
		fmt.Fprintf(stdErr, "清空命名空间 %s 失败\n", ns)
		return 1
	}
	fmt.Fprintf(stdOut, "flushed %s\n", ns)
	return 0
}

func runWarm(ctx context.Context, engine *cache.Engine, path string, permanent bool, concurrency int) int {
	urls, err := readWarmList(path)
	if err != nil {
		fmt.Fprintf(stdErr, "读取预热列表失败: %v\n", err)
		return 1
	}
	if err := engine.Warm(ctx, urls, permanent, concurrency); err != nil {
		fmt.Fprintf(stdErr, "预热失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdOut, "warmed %d urls\n", len(urls))
	return 0
}

// readWarmList 读取每行一个 URL 的列表，忽略空行与 # 注释。
func readWarmList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printJSON(v any) int {
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stdErr, "输出结果失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imgcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	var configFlag string

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGCACHE_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.pruneOnly, "prune", false, "对 cache 命名空间执行一次淘汰后退出")
	fs.StringVar(&opts.flushNS, "flush", "", "清空指定命名空间（permanent 或 cache）后退出")
	fs.StringVar(&opts.warmFile, "warm", "", "从文件读取 URL 列表预热后退出")
	fs.BoolVar(&opts.warmPermanent, "permanent", false, "与 --warm 搭配，写入 permanent 命名空间")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path

	modes := 0
	for _, set := range []bool{opts.pruneOnly, opts.flushNS != "", opts.warmFile != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return cliOptions{}, fmt.Errorf("--prune、--flush 与 --warm 不能同时使用")
	}

	return opts, nil
}

func startHTTPServer(cfg *config.Config, engine *cache.Engine, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	policy := consumer.PolicyFromConfig(cfg.Consumer)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Images:     proxy.NewHandler(engine, policy, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterMaintenanceRoutes(app, engine, policy, logger)
	app.Use(server.NotFound(logger))

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
