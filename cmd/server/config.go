package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type serverConfig struct {
	Addr         string `env:"SLOTPLAN_ADDR" envDefault:":8080"`
	ConfigDir    string `env:"SLOTPLAN_CONFIGS" envDefault:"./configs"`
	DataDir      string `env:"SLOTPLAN_DATA" envDefault:"./data"`
	TuningPath   string `env:"SLOTPLAN_TUNING"`
	IndexBackend string `env:"SLOTPLAN_INDEX_BACKEND" envDefault:"sqlite"`
	NoRestore    bool   `env:"SLOTPLAN_NO_RESTORE"`

	DeployEnv       string `env:"DEPLOY_ENV"`
	EnableAdminHTTP string `env:"SLOTPLAN_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"SLOTPLAN_ENABLE_PPROF_HTTP"`
}

func parseEnv(cfg *serverConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c serverConfig) adminEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(c.EnableAdminHTTP)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
