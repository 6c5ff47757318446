package telemetry

import (
	"os"
	"runtime"

	"github.com/psantana5/reconwrap/internal/cgroups"
)

// NodeInfo describes where an operation ran. Nil fields encode as null.
type NodeInfo struct {
	NodeName          *string
	CPUCoresAvailable *float64
	GPUCount          *int
	GPUModel          *string
}

// NodeInfoFunc is invoked once per tracked operation
type NodeInfoFunc func() NodeInfo

// DefaultNodeInfo reports the hostname (NODE_NAME wins when set), the CPU
// quota of the process cgroup or the machine core count, and the GPU
// inventory of gpu. A nil gpu leaves the GPU fields nil.
func DefaultNodeInfo(gpu GPUProvider, cg *cgroups.Reader) NodeInfoFunc {
	if cg == nil {
		cg = cgroups.New()
	}
	return func() NodeInfo {
		var info NodeInfo

		name := os.Getenv("NODE_NAME")
		if name == "" {
			if host, err := os.Hostname(); err == nil {
				name = host
			}
		}
		if name != "" {
			info.NodeName = &name
		}

		cores := float64(runtime.NumCPU())
		if quota, err := cg.CPUQuota(); err == nil && quota > 0 {
			cores = quota
		}
		info.CPUCoresAvailable = &cores

		if gpu != nil {
			count := gpu.Count()
			model := gpu.Model()
			info.GPUCount = &count
			info.GPUModel = &model
		}
		return info
	}
}
