// Package config provides loading and environment overlay for node
// configuration. It exposes a Default() baseline, Load for JSON or YAML
// files, and FromEnv for RS_* variable overrides.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/reactiveservices.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
