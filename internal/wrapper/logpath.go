package wrapper

import (
	"os"
	"path/filepath"
	"strings"
)

// FullLogPath derives where the worker's complete output is kept: logDir
// when set, else next to the directory named by --output-path, else the
// temp dir. The file name carries the --step value.
func FullLogPath(args []string, logDir string) string {
	step := flagValue(args, "--step")
	if step == "" {
		step = "unknown"
	}
	name := "recon-" + step + ".log"

	if logDir != "" {
		return filepath.Join(logDir, name)
	}
	if out := strings.TrimRight(flagValue(args, "--output-path"), "/"); out != "" {
		return filepath.Join(filepath.Dir(out), name)
	}
	return filepath.Join(os.TempDir(), name)
}

// StepName returns the --step argument, or "unknown"
func StepName(args []string) string {
	if step := flagValue(args, "--step"); step != "" {
		return step
	}
	return "unknown"
}

// flagValue finds "--name value" or "--name=value". The last occurrence wins.
func flagValue(args []string, name string) string {
	var value string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			value = v
			continue
		}
		if arg == name && i+1 < len(args) {
			value = args[i+1]
			i++
		}
	}
	return value
}
