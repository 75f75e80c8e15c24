// Plotter configuration file
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package config reads the plotter's INI-style settings file. Option
// access is tracked so unknown or misspelled options can be reported
// after loading.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config holds the parsed sections of a settings file.
type Config struct {
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads and parses a settings file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return LoadString(string(data))
}

// LoadString parses settings from a string. Sections are introduced
// by "[name]" lines; options are "key: value" or "key = value" pairs,
// with '#' starting a comment.
func LoadString(data string) (*Config, error) {
	c := New()

	var section string
	var options map[string]string
	flush := func() {
		if section != "" {
			c.addSection(section, options)
		}
	}

	for lineNum, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section == "" {
				return nil, fmt.Errorf("config: empty section header at line %d", lineNum+1)
			}
			options = make(map[string]string)
			continue
		}
		if section == "" {
			return nil, fmt.Errorf("config: option before any section at line %d", lineNum+1)
		}

		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, "=", 2)
		}
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: malformed line %d: %q", lineNum+1, line)
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, fmt.Errorf("config: empty option name at line %d", lineNum+1)
		}
		options[key] = strings.TrimSpace(kv[1])
	}
	flush()

	return c, nil
}

// addSection records a section, merging options into any earlier
// section of the same name.
func (c *Config) addSection(name string, options map[string]string) {
	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a section by name, marking it accessed.
func (c *Config) GetSection(name string) (*Section, error) {
	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessed[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a section if present, else nil.
func (c *Config) GetSectionOptional(name string) *Section {
	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection reports whether a section exists, without marking it
// accessed.
func (c *Config) HasSection(name string) bool {
	_, ok := c.sections[name]
	return ok
}

// GetAccessedSections returns the names of sections that were read.
func (c *Config) GetAccessedSections() []string {
	result := make([]string, 0, len(c.accessed))
	for name := range c.accessed {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// GetUnusedSections returns the names of sections never read.
func (c *Config) GetUnusedSections() []string {
	var result []string
	for name := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedSections returns an error naming any section that was
// never read. A section the loader does not know is usually a typo.
func (c *Config) CheckUnusedSections() error {
	unused := c.GetUnusedSections()
	if len(unused) > 0 {
		return NewConfigError("", "", fmt.Sprintf("unknown sections: %v", unused))
	}
	return nil
}

// CheckUnusedOptions returns an error naming any option that was
// never read in an accessed section.
func (c *Config) CheckUnusedOptions() error {
	var problems []string
	for name, sec := range c.sections {
		if unused := sec.GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unknown options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}

// Merge overlays another Config onto this one. Sections and options
// from other take precedence.
func (c *Config) Merge(other *Config) {
	for _, name := range other.order {
		otherSec := other.sections[name]
		if existing, ok := c.sections[name]; ok {
			for k, v := range otherSec.options {
				existing.options[k] = v
			}
			continue
		}
		opts := make(map[string]string, len(otherSec.options))
		for k, v := range otherSec.options {
			opts[k] = v
		}
		c.sections[name] = newSection(name, opts)
		c.order = append(c.order, name)
	}
}
