package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jingkaihe/activator/pkg/activation"
	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/osutil"
	"github.com/jingkaihe/activator/pkg/presenter"
	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
	viper.SetDefault("grace_period", osutil.GracefulShutdownDelay)
	viper.SetDefault("static_validation", false)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sampler", "ratio")
	viper.SetDefault("tracing.ratio", 1.0)
}

// defaultRuleDirs are the user-global and repo-local rule directories that
// exist on disk. Repo-local comes last so that its documents replace
// user-global ones with the same ID, matching hook discovery precedence.
func defaultRuleDirs() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".activator", "rules"))
	}
	candidates = append(candidates, filepath.Join(".activator", "rules"))

	var dirs []string
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// defaultHookDirs are the directories searched for hook configuration files
func defaultHookDirs(ctx context.Context) []string {
	discovery, err := hooks.NewDiscovery(hooks.WithDefaultDirs())
	if err != nil {
		logger.G(ctx).WithError(err).Debug("failed to resolve default hook directories")
		return []string{filepath.Join(".activator", "hooks")}
	}
	return discovery.Dirs()
}

// sourcesFromViper builds the activation sources from configuration. When
// nothing is configured the default rule and hook directories are used.
func sourcesFromViper(ctx context.Context) activation.Sources {
	src := activation.Sources{
		RuleDirs:  viper.GetStringSlice("rules_dirs"),
		RuleFiles: viper.GetStringSlice("rule_files"),
		HookFiles: viper.GetStringSlice("hook_files"),
		HookDirs:  viper.GetStringSlice("hook_dirs"),
	}
	if src.IsEmpty() {
		src.RuleDirs = defaultRuleDirs()
		src.HookDirs = defaultHookDirs(ctx)
	}
	return src
}

// serviceOptionsFromViper returns the activation service options configured
// through flags, environment or config file.
func serviceOptionsFromViper() []activation.Option {
	var opts []activation.Option
	if grace := viper.GetDuration("grace_period"); grace > 0 {
		opts = append(opts, activation.WithGracePeriod(grace))
	}
	if viper.GetBool("static_validation") {
		opts = append(opts, activation.WithStaticValidation())
	}
	if dir := viper.GetString("work_dir"); dir != "" {
		opts = append(opts, activation.WithWorkDir(dir))
	}
	return opts
}

// loadService creates a service and loads the configured sources into it
func loadService(ctx context.Context) (*activation.Service, activation.Sources, error) {
	src := sourcesFromViper(ctx)
	logger.G(ctx).WithFields(map[string]interface{}{
		"rule_dirs":  src.RuleDirs,
		"rule_files": src.RuleFiles,
		"hook_files": src.HookFiles,
		"hook_dirs":  src.HookDirs,
	}).Debug("loading activation sources")

	service := activation.New(serviceOptionsFromViper()...)
	if err := service.Load(ctx, src); err != nil {
		return nil, src, err
	}
	return service, src, nil
}

func presenterStats(stats activation.Stats) *presenter.SnapshotStats {
	return &presenter.SnapshotStats{
		Generation:       stats.Generation,
		CommonRules:      stats.CommonRules,
		ScopedRules:      stats.ScopedRules,
		PreToolUseHooks:  stats.PreToolUseHooks,
		PostToolUseHooks: stats.PostToolUseHooks,
	}
}
