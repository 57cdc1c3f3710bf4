package spec

import (
	"context"
	"time"
)

// QueryRecord is one answered ident query, kept for the operator's
// audit trail. Status holds "USERID" or the RFC 1413 error token.
type QueryRecord struct {
	Time       int64  `json:"time"`
	RemoteAddr string `json:"remote"`
	ServerPort uint16 `json:"server_port"`
	ClientPort uint16 `json:"client_port"`
	Status     string `json:"status"`
	UserName   string `json:"username,omitempty"`
}

type Store interface {
	WithCtx(ctx context.Context) StoreCtx
	Close()
}

type StoreCtx interface {
	AddQuery(rec QueryRecord) error
	RecentQueries(limit int) ([]QueryRecord, error)
	QueryStats() (total int64, failed int64, err error)
	TrimQueries(keep time.Duration) (removed int64, err error)
}
