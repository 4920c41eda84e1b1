package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransactionRecord correlates a settled payment with the request it paid for.
type TransactionRecord struct {
	RequestID       string    `json:"requestId"`
	TransactionHash string    `json:"transactionHash"`
	Network         string    `json:"network"`
	Payer           string    `json:"payer,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	AgentID         string    `json:"agentId,omitempty"`
	Operation       string    `json:"operation,omitempty"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

// TransactionLog is the sink for client-reported settlement receipts.
type TransactionLog interface {
	Record(ctx context.Context, record TransactionRecord) error
}

// ZapTransactionLog writes records to structured logs.
type ZapTransactionLog struct {
	logger *zap.Logger
}

// NewZapTransactionLog creates a log-backed sink.
func NewZapTransactionLog(logger *zap.Logger) *ZapTransactionLog {
	return &ZapTransactionLog{logger: logger}
}

func (l *ZapTransactionLog) Record(ctx context.Context, record TransactionRecord) error {
	l.logger.Info("transaction logged",
		zap.String("requestId", record.RequestID),
		zap.String("transactionHash", record.TransactionHash),
		zap.String("network", record.Network),
		zap.String("payer", record.Payer),
		zap.String("amount", record.Amount),
		zap.String("agentId", record.AgentID),
		zap.String("operation", record.Operation),
	)
	return nil
}

// MemoryTransactionLog keeps records in memory, for tests.
type MemoryTransactionLog struct {
	mu      sync.Mutex
	records []TransactionRecord
}

func NewMemoryTransactionLog() *MemoryTransactionLog {
	return &MemoryTransactionLog{}
}

func (l *MemoryTransactionLog) Record(ctx context.Context, record TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

// Records returns a copy of everything recorded so far.
func (l *MemoryTransactionLog) Records() []TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TransactionRecord, len(l.records))
	copy(out, l.records)
	return out
}
