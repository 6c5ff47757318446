package cgroups

// Reads only. The supervisor never writes to a cgroup it did not create,
// and it creates none.

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	cgroupRoot     = "/sys/fs/cgroup"
	procSelfCgroup = "/proc/self/cgroup"
)

// ErrNoLimit means the controller file exists but reports "max".
var ErrNoLimit = errors.New("cgroup: no limit set")

// Reader resolves and reads the calling process's cgroup v2 files.
type Reader struct {
	root       string
	selfCgroup string
}

// New returns a reader over the host's cgroup mount
func New() *Reader {
	return NewAt(cgroupRoot, procSelfCgroup)
}

// NewAt returns a reader over an arbitrary mount, for tests and chroots
func NewAt(root, selfCgroup string) *Reader {
	return &Reader{root: root, selfCgroup: selfCgroup}
}

// Version returns detected cgroup version (1 or 2)
func (r *Reader) Version() int {
	if _, err := os.Stat(filepath.Join(r.root, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// Dir returns the cgroup v2 directory of the calling process. Inside a
// container with a private cgroup namespace that is the mount root.
func (r *Reader) Dir() string {
	f, err := os.Open(r.selfCgroup)
	if err != nil {
		return r.root
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// v2 unified hierarchy entry: "0::/kubepods/pod123/abc"
		rel, ok := strings.CutPrefix(scanner.Text(), "0::")
		if !ok {
			continue
		}
		dir := filepath.Join(r.root, filepath.Clean("/"+rel))
		if _, err := os.Stat(filepath.Join(dir, "memory.max")); err == nil {
			return dir
		}
		break
	}
	return r.root
}

// readUint reads a single-value controller file, mapping "max" to ErrNoLimit
func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	if value == "max" {
		return 0, ErrNoLimit
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cgroup: parse %s: %w", path, err)
	}
	return n, nil
}

// readStat returns one key from a flat-keyed file such as memory.stat
func readStat(path, key string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == key {
			return strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("cgroup: %s not found in %s", key, path)
}
