// Package config loads the YAML option file shared by the compiler driver
// and the runtime pieces it instantiates.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

const DefaultFilename = "artc.yaml"

// Config is the on-disk option file.
type Config struct {
	Version int    `yaml:"version"`
	Arch    string `yaml:"arch,omitempty"`

	Heap HeapConfig `yaml:"heap"`
	GC   GCConfig   `yaml:"gc"`
}

// HeapConfig sizes the managed heap and its spaces.
type HeapConfig struct {
	CapacityMB uint32        `yaml:"capacityMB,omitempty"`
	Spaces     []SpaceConfig `yaml:"spaces,omitempty"`
}

type SpaceConfig struct {
	Name   string `yaml:"name"`
	SizeKB uint32 `yaml:"sizeKB"`
}

// GCConfig tunes the collector.
type GCConfig struct {
	MarkStackCapacity   int  `yaml:"markStackCapacity,omitempty"`
	ClearSoftReferences bool `yaml:"clearSoftReferences,omitempty"`
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Arch == "" {
		c.Arch = runtime.GOARCH
	}
	if c.Heap.CapacityMB == 0 {
		c.Heap.CapacityMB = 64
	}
	if len(c.Heap.Spaces) == 0 {
		c.Heap.Spaces = []SpaceConfig{{Name: "main", SizeKB: 1024}}
	}
}

// Validate rejects option files the driver cannot honor.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	var total uint64
	for i, sp := range c.Heap.Spaces {
		if sp.Name == "" {
			return fmt.Errorf("space %d has no name", i)
		}
		if sp.SizeKB == 0 {
			return fmt.Errorf("space %q has zero size", sp.Name)
		}
		total += uint64(sp.SizeKB) * 1024
	}
	if total > uint64(c.Heap.CapacityMB)*1024*1024 {
		return fmt.Errorf("spaces need %d bytes, heap capacity is %d MB", total, c.Heap.CapacityMB)
	}
	if c.GC.MarkStackCapacity < 0 {
		return fmt.Errorf("negative mark stack capacity %d", c.GC.MarkStackCapacity)
	}
	return nil
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return c, nil
}

// Write serializes a config file, for seeding a default next to a project.
func Write(path string, c Config) error {
	c.normalize()
	if err := c.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
