package e2e

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ticos/ticos-e2e/test/harness/e2e/vm"
)

type fakeVM struct {
	vm.TestVMInterface
	deleted   atomic.Int32
	deleteErr error
}

func (f *fakeVM) ForceDelete() error {
	f.deleted.Add(1)
	return f.deleteErr
}

func TestSlotForWorker(t *testing.T) {
	require := require.New(t)
	pool := NewVMPool(VMPoolConfig{TempDir: t.TempDir(), SSHPortBase: 2200})

	one, err := pool.SlotForWorker(1)
	require.NoError(err)
	two, err := pool.SlotForWorker(2)
	require.NoError(err)

	require.Equal(2201, one.SSHPort)
	require.Equal(2202, two.SSHPort)
	require.NotEqual(one.Dir, two.Dir)
	require.DirExists(one.Dir)
	require.Equal("ticos-e2e-worker-1", one.VMName)
}

func TestRegisterReplacesStaleVM(t *testing.T) {
	require := require.New(t)
	pool := NewVMPool(VMPoolConfig{TempDir: t.TempDir()})
	stale, current := &fakeVM{}, &fakeVM{}

	require.NoError(pool.Register(1, stale))
	require.NoError(pool.Register(1, stale))
	require.Equal(int32(0), stale.deleted.Load())

	require.NoError(pool.Register(1, current))
	require.Equal(int32(1), stale.deleted.Load())
	require.Equal(1, pool.Len())

	pool.Release(1)
	require.Equal(0, pool.Len())
	require.Equal(int32(0), current.deleted.Load())
}

func TestCleanupAllDeletesEveryVM(t *testing.T) {
	require := require.New(t)
	pool := NewVMPool(VMPoolConfig{TempDir: t.TempDir()})
	ok, broken := &fakeVM{}, &fakeVM{deleteErr: errors.New("domain busy")}
	require.NoError(pool.Register(1, ok))
	require.NoError(pool.Register(2, broken))

	err := pool.CleanupAll()
	require.ErrorContains(err, "worker 2: domain busy")
	require.Equal(int32(1), ok.deleted.Load())
	require.Equal(int32(1), broken.deleted.Load())
	require.Equal(0, pool.Len())
}
