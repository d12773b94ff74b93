package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryReader reports the resident memory of a process tree.
type MemoryReader interface {
	RSS(pid int) (uint64, error)
}

type processTreeMemoryReader struct{}

// NewProcessTreeMemoryReader sums the RSS of pid and all of its descendants,
// so worker processes forked by the service count against its threshold.
func NewProcessTreeMemoryReader() MemoryReader {
	return processTreeMemoryReader{}
}

func (processTreeMemoryReader) RSS(pid int) (uint64, error) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	return treeRSS(root, 0)
}

const maxTreeDepth = 16

func treeRSS(p *process.Process, depth int) (uint64, error) {
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	total := info.RSS
	if depth >= maxTreeDepth {
		return total, nil
	}

	children, err := p.Children()
	if err != nil {
		// ErrorNoChildren, or children exited between listing and reading
		return total, nil
	}
	for _, child := range children {
		if rss, err := treeRSS(child, depth+1); err == nil {
			total += rss
		}
	}
	return total, nil
}
