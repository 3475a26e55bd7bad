package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	apperrors "updraft/internal/errors"
)

const (
	KeyFeedURL       = "feed.url"
	KeyFeedUserAgent = "feed.user-agent"

	KeyConnectTimeout     = "network.connect-timeout"
	KeyReadTimeout        = "network.read-timeout"
	KeyProxy              = "network.proxy"
	KeyInsecureSkipVerify = "network.insecure-skip-verify"
	KeyVerifyHostname     = "network.verify-hostname"
	KeyHeaders            = "network.headers"

	KeyCheckEnabled  = "update.check-enabled"
	KeyLocalVersion  = "update.local-version"
	KeyTargetDir     = "update.target-dir"
	KeyDeleteArchive = "update.delete-archive"

	KeyHooksEnabled = "hooks.enabled"
	KeyHooksShell   = "hooks.shell"
	KeyHooksTimeout = "hooks.timeout"

	KeyAppFile      = "bootstrap.app-file"
	KeyUpdateDir    = "bootstrap.update-dir"
	KeyRemoveUpdate = "bootstrap.remove-update"

	KeyHistoryEnabled = "history.enabled"
	KeyHistoryPath    = "history.path"

	KeyDebug = "debug"
)

const (
	// DefaultConnectTimeout and DefaultReadTimeout bound each network phase.
	DefaultConnectTimeout = 8 * time.Second
	DefaultReadTimeout    = 8 * time.Second
	// DefaultHooksTimeout bounds a single hook script.
	DefaultHooksTimeout = 5 * time.Minute

	dirName        = ".updraft"
	configFileName = "config.yaml"
	historyFile    = "history.db"
	envPrefix      = "UD"
)

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	active     initSettings
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < project config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringMapString fetches a string map configuration value.
func GetStringMapString(key string) map[string]string {
	v, err := getViper()
	if err != nil {
		return nil
	}
	return v.GetStringMapString(key)
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

// Keys returns every known configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults()))
	for k := range defaults() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a recognised configuration key.
func IsKnownKey(key string) bool {
	_, ok := defaults()[key]
	return ok
}

func defaults() map[string]any {
	return map[string]any{
		KeyFeedURL:            "",
		KeyFeedUserAgent:      "",
		KeyConnectTimeout:     DefaultConnectTimeout,
		KeyReadTimeout:        DefaultReadTimeout,
		KeyProxy:              "",
		KeyInsecureSkipVerify: false,
		KeyVerifyHostname:     true,
		KeyHeaders:            map[string]string{},
		KeyCheckEnabled:       true,
		KeyLocalVersion:       "",
		KeyTargetDir:          "",
		KeyDeleteArchive:      true,
		KeyHooksEnabled:       true,
		KeyHooksShell:         "/bin/sh",
		KeyHooksTimeout:       DefaultHooksTimeout,
		KeyAppFile:            "",
		KeyUpdateDir:          "",
		KeyRemoveUpdate:       true,
		KeyHistoryEnabled:     true,
		KeyHistoryPath:        "",
		KeyDebug:              false,
	}
}

func configure(settings *initSettings) error {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir)
		if err != nil {
			return err
		}
		projectConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}
	if strings.TrimSpace(v.GetString(KeyHistoryPath)) == "" {
		v.SetDefault(KeyHistoryPath, filepath.Join(filepath.Dir(userConfigPath), historyFile))
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	active = initSettings{
		workingDir:        workingDir,
		projectConfigPath: projectConfigPath,
		userConfigPath:    userConfigPath,
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and project config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, dirName, configFileName), nil
}

func findProjectConfig(startDir string) (string, error) {
	if strings.TrimSpace(startDir) == "" {
		return "", nil
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, dirName, configFileName)
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	active = initSettings{}
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, dirName, configFileName)))
	return reset
}

// Save persists key=value to the appropriate config file and applies it to
// the running configuration.
// If a project config (.updraft/config.yaml) exists, it updates that file.
// Otherwise, it updates the user config (~/.updraft/config.yaml).
// The user config directory is auto-created if needed, but project config
// directories are never auto-created.
func Save(key string, value any) (string, error) {
	if !IsKnownKey(key) {
		return "", apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("unknown config key %q", key), nil)
	}
	if err := Initialize(); err != nil {
		return "", err
	}

	targetPath, err := findWritableConfigPath()
	if err != nil {
		return "", fmt.Errorf("find config path: %w", err)
	}

	// Create a fresh viper instance for this file only
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(targetPath)

	// Read existing config (if any) to preserve other settings
	_ = v.ReadInConfig() // ignore error if file doesn't exist

	v.Set(key, value)

	dir := filepath.Dir(targetPath)
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	if err := v.WriteConfigAs(targetPath); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}

	if err := Set(key, value); err != nil {
		return "", err
	}
	return targetPath, nil
}

// findWritableConfigPath determines which config file to write to.
// Returns project config path if it exists, otherwise user config path.
func findWritableConfigPath() (string, error) {
	configMu.RLock()
	settings := active
	configMu.RUnlock()

	if settings.projectConfigPath != "" {
		if _, err := os.Stat(settings.projectConfigPath); err == nil {
			return settings.projectConfigPath, nil
		}
	}
	if settings.userConfigPath != "" {
		return settings.userConfigPath, nil
	}
	return defaultUserConfigPath()
}
