package types

import (
	"context"
)

// Transport performs the three conversation requests against the backend.
// Implementations must honour ctx cancellation and report non-success
// responses as *ResponseError.
type Transport interface {
	FetchHistory(ctx context.Context, req HistoryRequest) (*HistoryPage, error)
	Send(ctx context.Context, req SendRequest) (*SendReply, error)
	Clear(ctx context.Context, target TargetID) (*ClearResult, error)
}

// ThreadStore indexes conversation threads by key.
type ThreadStore interface {
	ResolveOrCreate(ctx context.Context, key ThreadKey, challenge TargetID) (*Thread, error)
	Get(ctx context.Context, id ThreadID) (*Thread, error)
	List(ctx context.Context) ([]*Thread, error)
	Update(ctx context.Context, thread *Thread) error
}

// MessageLog is the append-only message history of each thread.
type MessageLog interface {
	Append(ctx context.Context, thread ThreadID, entry *LogEntry) error
	// Page returns up to limit visible messages older than before (all when
	// before <= 0), newest-first, and whether older ones remain.
	Page(ctx context.Context, thread ThreadID, before int64, limit int) ([]LogEntry, bool, error)
	// Tail returns the newest limit visible messages, oldest-first.
	Tail(ctx context.Context, thread ThreadID, limit int) ([]LogEntry, error)
	Clear(ctx context.Context, thread ThreadID) (int, error)
	Count(ctx context.Context, thread ThreadID) (int64, error)
}
