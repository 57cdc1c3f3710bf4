package audit

import (
	"context"
	"time"

	"code.dogecoin.org/governor"
	"github.com/sirupsen/logrus"

	"github.com/thombles/whoisit/internal/spec"
)

const recordQueue = 64
const trimInterval = time.Hour
const keepQueries = 7 * 24 * time.Hour

// Auditor writes answered queries to the store on its own goroutine,
// so a slow disk never delays a response. Records are accepted through
// a bounded queue; when the queue is full the record is dropped, never
// the response.
type Auditor struct {
	governor.ServiceCtx
	_store  spec.Store
	store   spec.StoreCtx
	records chan spec.QueryRecord
}

func New(store spec.Store) *Auditor {
	return &Auditor{
		_store:  store,
		records: make(chan spec.QueryRecord, recordQueue),
	}
}

// Record queues one query record. Non-blocking; called from any
// connection handler.
func (a *Auditor) Record(rec spec.QueryRecord) {
	select {
	case a.records <- rec:
	default:
		logrus.Warn("audit queue full, dropping record")
	}
}

// goroutine
func (a *Auditor) Run() {
	ctx := a.Context // Service Context is first available here
	if ctx == nil {
		ctx = context.Background()
	}
	a.store = a._store.WithCtx(ctx)
	trim := time.NewTimer(trimInterval)
	defer trim.Stop()
	for {
		select {
		case rec := <-a.records:
			if err := a.store.AddQuery(rec); err != nil {
				logrus.WithError(err).Warn("cannot store query record")
			}
		case <-trim.C:
			a.trim()
			trim.Reset(trimInterval)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (a *Auditor) drain() {
	for {
		select {
		case rec := <-a.records:
			if err := a.store.AddQuery(rec); err != nil {
				logrus.WithError(err).Warn("cannot store query record")
			}
		default:
			return
		}
	}
}

func (a *Auditor) trim() {
	removed, err := a.store.TrimQueries(keepQueries)
	if err != nil {
		logrus.WithError(err).Warn("cannot trim query log")
		return
	}
	if removed > 0 {
		logrus.WithField("removed", removed).Info("trimmed query log")
	}
}
