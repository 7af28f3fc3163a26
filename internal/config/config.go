// Package config is the core's external configuration contract: a flat
// string-to-string map (spec §6), with an optional YAML front-end for the
// binary entry point and a bespoke parser for the legacy Java-properties
// role file format.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

// Keys recognized in the flat config map.
const (
	KeyOpenFlowPort           = "openflowport"
	KeyWorkerThreads          = "workerthreads"
	KeyRole                   = "role"
	KeyRolePath               = "rolepath"
	KeyFlushSwitchesOnReconnect = "flushSwitchesOnReconnect"
)

// Defaults.
const (
	DefaultOpenFlowPort = 6633
	// DefaultWorkerThreads is 0: an unbounded "cached pool" where every
	// connection gets its own goroutine, the natural Go equivalent of the
	// cached thread pool spec §6 describes for workerthreads=0.
	DefaultWorkerThreads = 0
)

// Map is the flat configuration contract every component reads from:
// functions on it never mutate the caller's map, only read it with
// defaults.
type Map map[string]string

// OpenFlowPort returns KeyOpenFlowPort, or DefaultOpenFlowPort if absent or
// unparsable.
func (m Map) OpenFlowPort() int {
	return m.intOr(KeyOpenFlowPort, DefaultOpenFlowPort)
}

// WorkerThreads returns KeyWorkerThreads, or DefaultWorkerThreads if absent
// or unparsable.
func (m Map) WorkerThreads() int {
	return m.intOr(KeyWorkerThreads, DefaultWorkerThreads)
}

// FlushSwitchesOnReconnect reports whether a switch superseding a prior
// connection for the same DPID should have its FlowMods cleared.
func (m Map) FlushSwitchesOnReconnect() bool {
	v, ok := m[KeyFlushSwitchesOnReconnect]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Role returns the configured startup role and whether it was present and
// recognized; an unrecognized value reports false, the same as an absent one.
// Role always wins when set; RolePath is consulted by the caller via
// ParsePropertiesRole only when Role is absent.
func (m Map) Role() (ofp.Role, bool) {
	v, ok := m[KeyRole]
	if !ok {
		return ofp.RoleEqual, false
	}
	role, ok := ofp.ParseRole(v)
	return role, ok
}

// RolePath returns KeyRolePath, if set.
func (m Map) RolePath() (string, bool) {
	v, ok := m[KeyRolePath]
	return v, ok
}

func (m Map) intOr(key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// yamlDoc is the on-disk shape for the binary's optional YAML front-end; it
// unmarshals directly into the flat Map contract every component consumes.
type yamlDoc map[string]string

// ParseYAML decodes a YAML document into a flat Map.
func ParseYAML(r io.Reader) (Map, error) {
	var doc yamlDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return Map(doc), nil
}

// ParsePropertiesRole parses the legacy Java-properties-style role file
// (a single "floodlight.role=<ROLE>" line, '#'-prefixed comments and blank
// lines ignored) referenced by KeyRolePath. It exists because the role
// cache file predates this config's YAML front-end and external tooling
// still writes it in place during a live role change.
func ParsePropertiesRole(r io.Reader) (ofp.Role, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) != "floodlight.role" {
			continue
		}
		role, ok := ofp.ParseRole(strings.TrimSpace(value))
		if !ok {
			return ofp.RoleEqual, fmt.Errorf("config: unrecognized role %q in properties file", value)
		}
		return role, nil
	}
	if err := scanner.Err(); err != nil {
		return ofp.RoleEqual, fmt.Errorf("config: read properties file: %w", err)
	}
	return ofp.RoleEqual, fmt.Errorf("config: properties file has no floodlight.role entry")
}
