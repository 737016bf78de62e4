package episodic

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// Service is the knowledge lifecycle engine: it records experiences, mines
// patterns, distills and re-scores lessons, and runs the retention sweep.
//
// All operations are short synchronous calls. The service holds no locks of
// its own; logical check-then-write operations run as single store
// transactions, and concurrent callers are serialized by SQLite.
type Service struct {
	store  *store.Store
	logger *zap.Logger

	// now is injectable for decay-sensitive tests.
	now func() time.Time
}

// NewService creates the engine around an explicit store handle.
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		logger: logger,
		now:    time.Now,
	}, nil
}
