// Package file keeps the ledger in a single JSON document. Each commit rewrites
// the document through a temporary file and a rename, so a commit is either
// fully visible or not at all. Commits hold an exclusive lock on a sibling
// .lock file, so several processes can share one ledger.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sys/unix"

	"prizepool/internal/ledger"
	"prizepool/internal/model"
)

// Store persists ledger records in a local JSON file.
type Store struct {
	Path string

	mu sync.Mutex
}

type document struct {
	State      *model.PoolState           `json:"state,omitempty"`
	Epochs     map[string]model.Epoch     `json:"epochs"`
	Depositors map[string]model.Depositor `json:"depositors"`
	UpdatedAt  string                     `json:"updated_at"`
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

func (s *Store) LoadState(ctx context.Context) (model.PoolState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return model.PoolState{}, false, err
	}
	if doc.State == nil {
		return model.PoolState{}, false, nil
	}
	return *doc.State, true, nil
}

func (s *Store) LoadEpoch(ctx context.Context, index uint64) (model.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return model.Epoch{}, err
	}
	ep, ok := doc.Epochs[epochKey(index)]
	if !ok {
		return model.Epoch{}, fmt.Errorf("epoch %d: %w", index, ledger.ErrNotFound)
	}
	return ep, nil
}

func (s *Store) LoadDepositor(ctx context.Context, owner common.Address) (model.Depositor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return model.Depositor{}, false, err
	}
	dep, ok := doc.Depositors[depositorKey(owner)]
	return dep, ok, nil
}

func (s *Store) Commit(ctx context.Context, change ledger.Change) error {
	if change.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := ledger.CheckVersion(doc.State, change); err != nil {
		return err
	}
	if change.State != nil {
		state := ledger.Next(*change.State)
		doc.State = &state
	}
	if change.Epoch != nil {
		doc.Epochs[epochKey(change.Epoch.Index)] = *change.Epoch
	}
	for _, dep := range change.Depositors {
		doc.Depositors[depositorKey(dep.Owner)] = dep
	}
	doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	return s.write(doc)
}

func (s *Store) read() (document, error) {
	doc := document{
		Epochs:     make(map[string]model.Epoch),
		Depositors: make(map[string]model.Depositor),
	}
	if s.Path == "" {
		return doc, fmt.Errorf("ledger path is required")
	}

	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("stat ledger: %w", err)
	}
	if stat.IsDir() {
		return doc, fmt.Errorf("ledger path is a directory")
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return doc, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse ledger: %w", err)
	}
	if doc.Epochs == nil {
		doc.Epochs = make(map[string]model.Epoch)
	}
	if doc.Depositors == nil {
		doc.Depositors = make(map[string]model.Depositor)
	}
	return doc, nil
}

// lock takes an exclusive advisory lock shared with other processes using
// the same path. The returned func releases it.
func (s *Store) lock() (func(), error) {
	if err := s.mkdir(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.Path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

func (s *Store) mkdir() error {
	dir := filepath.Dir(s.Path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	return nil
}

func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}

func epochKey(index uint64) string {
	return strconv.FormatUint(index, 10)
}

func depositorKey(owner common.Address) string {
	return owner.Hex()
}
