// Package config provides YAML configuration loading and validation for the
// shadowsocks server pool.
package config
