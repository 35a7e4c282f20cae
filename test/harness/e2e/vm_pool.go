package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/test/harness/e2e/vm"
	"golang.org/x/sync/errgroup"
)

// VMPool tracks the VM each parallel worker is running so a suite can tear
// down whatever a crashed test left behind.
type VMPool struct {
	vms    map[int]vm.TestVMInterface
	mutex  sync.Mutex
	config VMPoolConfig
}

type VMPoolConfig struct {
	TempDir     string
	SSHPortBase int
}

// WorkerSlot holds the resources reserved for one parallel worker.
type WorkerSlot struct {
	WorkerID int
	VMName   string
	Dir      string
	SSHPort  int
}

var (
	globalVMPool *VMPool
	poolOnce     sync.Once
)

// GetOrCreateVMPool returns the process wide pool, creating it on first use.
func GetOrCreateVMPool(config VMPoolConfig) *VMPool {
	poolOnce.Do(func() {
		globalVMPool = NewVMPool(config)
	})
	return globalVMPool
}

func NewVMPool(config VMPoolConfig) *VMPool {
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &VMPool{
		vms:    make(map[int]vm.TestVMInterface),
		config: config,
	}
}

// SlotForWorker reserves a working directory and an SSH port for workerID.
// Ports are SSHPortBase+workerID so concurrent workers never collide.
func (p *VMPool) SlotForWorker(workerID int) (WorkerSlot, error) {
	dir := filepath.Join(p.config.TempDir, fmt.Sprintf("ticos-e2e-worker-%d", workerID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return WorkerSlot{}, fmt.Errorf("failed to create worker directory: %w", err)
	}
	return WorkerSlot{
		WorkerID: workerID,
		VMName:   fmt.Sprintf("ticos-e2e-worker-%d", workerID),
		Dir:      dir,
		SSHPort:  p.config.SSHPortBase + workerID,
	}, nil
}

// Register records the VM a worker started. A VM still registered for the
// worker is deleted first.
func (p *VMPool) Register(workerID int, v vm.TestVMInterface) error {
	p.mutex.Lock()
	old, exists := p.vms[workerID]
	p.vms[workerID] = v
	p.mutex.Unlock()
	if exists && old != v {
		logrus.Warnf("[VMPool] Worker %d: removing stale VM", workerID)
		return old.ForceDelete()
	}
	return nil
}

// Release forgets the worker's VM without stopping it.
func (p *VMPool) Release(workerID int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.vms, workerID)
}

func (p *VMPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.vms)
}

// CleanupAll force deletes every registered VM in parallel. All deletions
// are attempted; the first error is returned.
func (p *VMPool) CleanupAll() error {
	p.mutex.Lock()
	vms := p.vms
	p.vms = make(map[int]vm.TestVMInterface)
	p.mutex.Unlock()

	var eg errgroup.Group
	for workerID, v := range vms {
		eg.Go(func() error {
			if err := v.ForceDelete(); err != nil {
				logrus.Errorf("[VMPool] Worker %d: failed to delete VM: %v", workerID, err)
				return fmt.Errorf("worker %d: %w", workerID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
