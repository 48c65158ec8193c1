package sandbox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/vigil/pkg/security"
)

// DefaultScratchRoot is the base directory under which per-job scratch
// regions are created (adapted from the teacher's
// volume.DefaultVolumesPath).
const DefaultScratchRoot = "/var/lib/vigil/sandbox-scratch"

// ScratchManager creates and destroys the write-only scratch region each
// sandbox instance gets (spec.md §4.3 provisioning contract). Unlike the
// teacher's volume.LocalDriver, scratch regions are never reused or
// affinity-pinned to a node: every job gets a fresh directory and it is
// destroyed, not retained, on teardown.
type ScratchManager struct {
	root    string
	diskCap int64 // bytes
}

// NewScratchManager builds a manager rooted at root, enforcing diskCapGiB
// per scratch region (spec.md §4.3: 10 GiB disk cap).
func NewScratchManager(root string, diskCapGiB int64) (*ScratchManager, error) {
	if root == "" {
		root = DefaultScratchRoot
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("sandbox: create scratch root: %w", err)
	}
	return &ScratchManager{root: root, diskCap: diskCapGiB << 30}, nil
}

// Create allocates a fresh scratch directory for one sandbox instance.
func (m *ScratchManager) Create(instanceID string) (string, error) {
	path := m.pathFor(instanceID)
	if err := os.MkdirAll(path, 0700); err != nil {
		return "", fmt.Errorf("sandbox: create scratch directory: %w", err)
	}
	return path, nil
}

// Seal overwrites every regular file under a scratch directory with its
// tenant cipher's keystream before Destroy runs, so whatever the artifact
// wrote there (dropped payloads, decrypted config, exfiltration staging)
// doesn't sit recoverable on disk between teardown and the next write to
// that block. Best-effort: a file that can't be reopened for writing is
// skipped rather than failing the whole seal.
func (m *ScratchManager) Seal(instanceID string, cipher *security.TenantCipher) error {
	root := m.pathFor(instanceID)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		shredded, encErr := cipher.Encrypt(make([]byte, info.Size()))
		if encErr != nil {
			return nil
		}
		f, openErr := os.OpenFile(path, os.O_WRONLY, 0)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		n := len(shredded)
		if int64(n) > info.Size() {
			n = int(info.Size())
		}
		_, _ = io.CopyN(f, bytes.NewReader(shredded[:n]), int64(n))
		return nil
	})
}

// Destroy removes a scratch directory and everything written into it.
// Called unconditionally during teardown (spec.md §4.3).
func (m *ScratchManager) Destroy(instanceID string) error {
	path := m.pathFor(instanceID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("sandbox: destroy scratch directory: %w", err)
	}
	return nil
}

// Usage reports the current on-disk size of a scratch directory, used to
// enforce the disk cap during execution.
func (m *ScratchManager) Usage(instanceID string) (int64, error) {
	var total int64
	err := filepath.Walk(m.pathFor(instanceID), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sandbox: measure scratch usage: %w", err)
	}
	return total, nil
}

// OverCap reports whether a scratch region has exceeded its disk cap,
// triggering the immediate Draining transition spec.md §4.3 requires.
func (m *ScratchManager) OverCap(instanceID string) (bool, error) {
	used, err := m.Usage(instanceID)
	if err != nil {
		return false, err
	}
	return used > m.diskCap, nil
}

func (m *ScratchManager) pathFor(instanceID string) string {
	return filepath.Join(m.root, instanceID)
}
