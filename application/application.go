package application

import (
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/chat-relay-go/pkg/log"
	zviper "github.com/lk2023060901/chat-relay-go/pkg/util/viper"
)

const (
	// DefaultConfigPath 为未指定配置文件时的默认路径，文件不存在时使用内置默认值。
	DefaultConfigPath = "./config.yaml"

	envConfigPath = "RELAY_CONFIG_FILE_PATH"
)

// version 可在链接时覆盖：
//
//	go build -ldflags "-X github.com/lk2023060901/chat-relay-go/application.version=1.2.0"
var version = "0.1.0"

// Version 返回当前程序版本，无法解析时返回 0.0.0。
func Version() semver.Version {
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return semver.Version{}
	}
	return v
}

// SignalKind 描述进程信号的用途。
type SignalKind int

const (
	// SignalShutdown 对应 SIGINT/SIGTERM，表示请求优雅退出。
	SignalShutdown SignalKind = iota + 1
	// SignalReload 对应 SIGHUP。
	SignalReload
)

func (k SignalKind) String() string {
	switch k {
	case SignalShutdown:
		return "shutdown"
	case SignalReload:
		return "reload"
	default:
		return "unknown"
	}
}

// SignalHandler 为信号回调。
type SignalHandler func(kind SignalKind, sig os.Signal)

// Application 是服务进程的运行时容器，负责加载配置、初始化日志与分发进程信号。
type Application struct {
	configPath string
	cfg        *zviper.Config
	loggers    map[string]*zlog.MLogger
	levels     map[string]zap.AtomicLevel

	mu       sync.Mutex
	handlers []SignalHandler
	sigCh    chan os.Signal
	stopOnce sync.Once
}

// Option 为 Application 的可选配置。
type Option func(*Application)

// WithConfigPath 指定配置文件路径，优先级高于环境变量 RELAY_CONFIG_FILE_PATH。
func WithConfigPath(path string) Option {
	return func(a *Application) {
		a.configPath = path
	}
}

// New 创建一个 Application。
func New(opts ...Option) *Application {
	a := &Application{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 加载配置、初始化日志，并开始监听进程信号。
//
// 配置文件路径的优先级：
//  1. WithConfigPath；
//  2. 环境变量 RELAY_CONFIG_FILE_PATH；
//  3. 默认 ./config.yaml（文件不存在时跳过）。
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	a.watchSignals()
	zlog.Info("application started", zap.String("version", Version().String()), zap.String("config", a.ConfigPath()))
	return nil
}

// Stop 停止信号监听，可重复调用。
func (a *Application) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.sigCh != nil {
			signal.Stop(a.sigCh)
			close(a.sigCh)
		}
	})
}

// Config 返回已加载的配置，可能为 nil。
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// ConfigPath 返回实际使用的配置文件路径，未加载文件时为空。
func (a *Application) ConfigPath() string {
	return a.configPath
}

// Decode 将配置中 key 对应的段解码到 dst；未加载配置或 key 不存在时保持 dst 不变。
func (a *Application) Decode(key string, dst any) error {
	if a.cfg == nil {
		return nil
	}
	if err := a.cfg.UnmarshalKey(key, dst); err != nil {
		return errors.Wrapf(err, "decode config section %q", key)
	}
	return nil
}

// Logger 返回配置中 logging 段声明的命名 Logger，未知名字时回退到全局 Logger。
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// OnSignal 注册信号回调，回调在独立协程中按注册顺序执行。
func (a *Application) OnSignal(fn SignalHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

func (a *Application) watchSignals() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sigCh != nil {
		return
	}
	a.sigCh = make(chan os.Signal, 1)
	signal.Notify(a.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ch := a.sigCh
	go func() {
		for sig := range ch {
			a.dispatch(sig)
		}
	}()
}

func (a *Application) dispatch(sig os.Signal) {
	kind := SignalShutdown
	if sig == syscall.SIGHUP {
		kind = SignalReload
	}
	zlog.Info("signal received", zap.Stringer("signal", sig), zap.Stringer("kind", kind))
	if kind == SignalReload {
		if err := a.Reload(); err != nil {
			zlog.Warn("reload config failed", zap.Error(err))
		}
	}

	a.mu.Lock()
	handlers := append([]SignalHandler(nil), a.handlers...)
	a.mu.Unlock()
	for _, fn := range handlers {
		fn(kind, sig)
	}
}

// loadConfig 解析配置文件路径并通过 viper 加载。
func (a *Application) loadConfig() (*zviper.Config, error) {
	path := a.configPath
	explicit := path != ""
	if !explicit {
		if envPath := getenvDefault(envConfigPath, ""); envPath != "" {
			path, explicit = envPath, true
		} else {
			path = DefaultConfigPath
		}
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			a.configPath = ""
			return nil, nil
		}
	}

	cfg, err := zviper.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", path)
	}
	a.configPath = path
	return cfg, nil
}

// initLogging 初始化全局与模块级 Logger。
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 根据 RELAY_LOG_* 环境变量配置进程级 Logger。
//
//   - RELAY_LOG_ENABLE: "1"/"true" 开启输出，其余视为关闭；
//   - RELAY_LOG_LEVEL: 日志级别，默认 "info"；
//   - RELAY_LOG_STDOUT: 是否输出到标准输出，默认 false；
//   - RELAY_LOG_FILE_DIR: 日志目录；
//   - RELAY_LOG_FILE: 日志文件名，为空表示不写文件；
//   - RELAY_LOG_FORMAT: 日志格式（text 或 json），默认 "text"。
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("RELAY_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:               getenvDefault("RELAY_LOG_LEVEL", "info"),
		Format:              getenvDefault("RELAY_LOG_FORMAT", zlog.FormatText),
		Stdout:              getenvBool("RELAY_LOG_STDOUT", false),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("RELAY_LOG_FILE_DIR", ""),
			Filename: getenvDefault("RELAY_LOG_FILE", ""),
		},
	}

	// 未开启时丢弃所有输出。
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 根据 logging 段创建命名 Logger。
//
// 示例：
//
//	logging:
//	  relay:
//	    level: debug
//	    file:
//	      rootpath: ./logs
//	      filename: relay.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	a.levels = make(map[string]zap.AtomicLevel, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, props, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
		a.levels[name] = props.Level
	}
	return nil
}

// Reload 重新读取配置文件，并按 logging 段调整已有命名 Logger 的级别。
// 其余配置段由调用方在 SignalReload 回调中通过 Decode 重新读取。
func (a *Application) Reload() error {
	if a.cfg == nil {
		return nil
	}
	if err := a.cfg.Reload(); err != nil {
		return err
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "decode logging section")
	}
	for name, lc := range raw {
		level, ok := a.levels[name]
		if !ok || lc.Level == "" {
			continue
		}
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return errors.Wrapf(err, "logger %q level %q", name, lc.Level)
		}
	}
	zlog.Info("config reloaded", zap.String("config", a.configPath))
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
