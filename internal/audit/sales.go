// Package audit keeps the sales log: one compressed JSON line per item kind
// sold.
package audit

import (
	"time"

	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/settlement"
)

const DefaultPrefix = "sales"

// Sale is one line of the sales log.
type Sale struct {
	Time     time.Time `json:"time"`
	Actor    string    `json:"actor"`
	Item     string    `json:"item"`
	Quantity int64     `json:"quantity"`
	Gross    float64   `json:"gross"`
	Currency string    `json:"currency"`
}

type SalesLog struct {
	w      *Writer
	logger log.Log
}

var _ settlement.AuditLog = (*SalesLog)(nil)

func NewSalesLog(dir, prefix string, logger log.Log) *SalesLog {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &SalesLog{w: NewWriter(dir, prefix), logger: logger.Named("audit")}
}

// RecordSale never fails; write errors are logged.
func (l *SalesLog) RecordSale(actorName, itemName string, quantity int64, grossPrice float64, currency string) {
	err := l.w.Write(Sale{
		Time:     l.w.now().UTC(),
		Actor:    actorName,
		Item:     itemName,
		Quantity: quantity,
		Gross:    grossPrice,
		Currency: currency,
	})
	if err != nil {
		l.logger.Error("Failed to write sales log",
			log.String("actor", actorName),
			log.String("item", itemName),
			log.Error(err),
		)
	}
}

func (l *SalesLog) Close() error { return l.w.Close() }
