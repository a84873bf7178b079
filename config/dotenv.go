// ABOUTME: Loads CONDUCTOR_* and other variables from .env files before configuration is read.
// ABOUTME: DotEnv remembers which file supplied each variable so help can report the source.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DotEnvName is the file name searched for by LoadDotEnvAuto.
const DotEnvName = ".env"

// DotEnv records the outcome of loading one or more .env files. Variables
// already present in the environment are never overwritten.
type DotEnv struct {
	// Files lists the files that were read, in load order.
	Files []string

	source map[string]string
}

// Load reads path and sets every variable not already in the environment.
// A missing file is not an error.
func (d *DotEnv) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pairs, err := parseDotEnv(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	d.Files = append(d.Files, path)
	for _, kv := range pairs {
		if _, exists := os.LookupEnv(kv[0]); exists {
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("set %s from %s: %w", kv[0], path, err)
		}
		if d.source == nil {
			d.source = map[string]string{}
		}
		d.source[kv[0]] = path
	}
	return nil
}

// Source returns the file that set key, if a loaded .env file did.
func (d *DotEnv) Source(key string) (string, bool) {
	if d == nil {
		return "", false
	}
	p, ok := d.source[key]
	return p, ok
}

// parseDotEnv accepts KEY=VALUE lines with optional quotes and an optional
// "export " prefix. Blank lines, comments and lines without '=' are skipped.
func parseDotEnv(r io.Reader) ([][2]string, error) {
	var pairs [][2]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		pairs = append(pairs, [2]string{key, unquote(strings.TrimSpace(value))})
	}
	return pairs, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadDotEnvAuto loads .env from the working directory and each parent,
// then from the conductor config directory. Earlier files win. Unreadable
// files are skipped; the returned error joins their failures.
func LoadDotEnvAuto() (*DotEnv, error) {
	d := &DotEnv{}
	seen := map[string]bool{}
	var errs []error
	load := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		if err := d.Load(p); err != nil {
			errs = append(errs, err)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		for dir := wd; ; {
			load(filepath.Join(dir, DotEnvName))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if dir, err := DefaultConfigDir(); err == nil {
		load(filepath.Join(dir, DotEnvName))
	}
	return d, errors.Join(errs...)
}
