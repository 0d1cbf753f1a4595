package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driveguard/internal/analysis"
	"driveguard/internal/config"
	"driveguard/internal/extractor"
	"driveguard/internal/logging"
	"driveguard/internal/pipeline"
	"driveguard/internal/results"
	"driveguard/internal/store"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// log returns the configured logger, or a no-op one when the config cannot build it.
func (c *commandContext) log() *zap.Logger {
	c.loggerOnce.Do(func() {
		c.logger = zap.NewNop()
		cfg := c.configValue()
		if cfg == nil {
			return
		}
		settings := cfg.Log
		if c.verbose != nil && *c.verbose {
			settings.Level = "debug"
		}
		if l, err := logging.New(settings); err == nil {
			c.logger = l
		}
	})
	return c.logger
}

// newPipeline wires the file-only pipeline used by analyze and batch.
func (c *commandContext) newPipeline(st store.Store) (*pipeline.Pipeline, error) {
	cfg := c.configValue()
	runner, err := extractor.New(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	calibrations, err := analysis.LoadCalibrations(cfg.Paths.CalibrationFile)
	if err != nil {
		return nil, err
	}
	return &pipeline.Pipeline{
		Store:        st,
		Results:      results.New(cfg.Paths.OutputDir),
		Analyzer:     runner,
		Probe:        pipeline.FFprobe(cfg.Analysis.FFprobe),
		Calibrations: calibrations,
		Logger:       c.log(),
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
