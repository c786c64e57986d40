// Package config supplies the fixed startup parameters of the host
// agent and NIC agent binaries (spec §6 "CLI surface"). Per spec
// §1's non-goal of "no dynamic reconfiguration", an optional YAML file
// is read once at process startup and never watched; values given as
// positional CLI arguments always win on conflict.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the optional on-disk startup override, read once via
// --config. A field is used only where its corresponding positional
// argument is zero; it never overrides a non-zero positional value.
type File struct {
	SamplingIntervalSec int    `yaml:"sampling_interval_sec,omitempty"`
	BlockSize           int    `yaml:"block_size,omitempty"`
	NumBlocks           int    `yaml:"num_blocks,omitempty"`
	DPUAddress          string `yaml:"dpu_address,omitempty"`
	DPUPort             int    `yaml:"dpu_port,omitempty"`
	ListenPort          int    `yaml:"listen_port,omitempty"`
	HostAddress         string `yaml:"host_address,omitempty"`
}

// LoadFile parses a YAML startup-override file. An empty path is not an
// error — it simply returns a zero File, so every value falls back to
// the positional CLI arguments.
func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// HostAgent is the fully-resolved configuration for cmd/host-agent (spec
// §6: "<DPU-address> <DPU-port> <block_size> <num_blocks>").
type HostAgent struct {
	DPUAddress string
	DPUPort    int
	BlockSize  int
	NumBlocks  int
}

// ResolveHostAgent overlays a parsed File onto positional arguments,
// positional values winning wherever they're non-zero-valued.
func ResolveHostAgent(f File, dpuAddress string, dpuPort, blockSize, numBlocks int) HostAgent {
	cfg := HostAgent{DPUAddress: dpuAddress, DPUPort: dpuPort, BlockSize: blockSize, NumBlocks: numBlocks}
	if cfg.DPUAddress == "" {
		cfg.DPUAddress = f.DPUAddress
	}
	if cfg.DPUPort == 0 {
		cfg.DPUPort = f.DPUPort
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = f.BlockSize
	}
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = f.NumBlocks
	}
	return cfg
}

// NICAgent is the fully-resolved configuration for cmd/nic-agent (spec
// §6: "<listen-port> <sampling_interval_sec> <block_size> <num_blocks>").
type NICAgent struct {
	ListenPort          int
	SamplingIntervalSec int
	BlockSize           int
	NumBlocks           int
}

// ResolveNICAgent overlays a parsed File onto positional arguments.
func ResolveNICAgent(f File, listenPort, samplingIntervalSec, blockSize, numBlocks int) NICAgent {
	cfg := NICAgent{
		ListenPort:          listenPort,
		SamplingIntervalSec: samplingIntervalSec,
		BlockSize:           blockSize,
		NumBlocks:           numBlocks,
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = f.ListenPort
	}
	if cfg.SamplingIntervalSec == 0 {
		cfg.SamplingIntervalSec = f.SamplingIntervalSec
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = f.BlockSize
	}
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = f.NumBlocks
	}
	return cfg
}
