package subscription

import "PayRoute/internal/ledger"

// SortOrder defines how results should be ordered when listing subscriptions.
type SortOrder int

const (
	// SortByNextExecutionAsc orders subscriptions by NextExecutionTime ascending.
	SortByNextExecutionAsc SortOrder = iota
	// SortByCreatedDesc orders subscriptions by CreatedAt descending (newest first).
	SortByCreatedDesc
)

// ListOptions controls how subscriptions are selected when querying the store.
type ListOptions struct {
	Limit     int
	Offset    int
	Payer     ledger.Account
	Recipient ledger.Account
	Statuses  []Status
	DueBefore int64
	Order     SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of subscriptions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching subscriptions before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithPayer filters subscriptions by payer account.
func WithPayer(payer ledger.Account) ListOption {
	return func(opts *ListOptions) {
		opts.Payer = payer
	}
}

// WithRecipient filters subscriptions by recipient account.
func WithRecipient(recipient ledger.Account) ListOption {
	return func(opts *ListOptions) {
		opts.Recipient = recipient
	}
}

// WithStatuses filters subscriptions by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithDueBefore keeps only subscriptions whose next execution time is at or
// before the provided unix timestamp.
func WithDueBefore(ts int64) ListOption {
	return func(opts *ListOptions) {
		opts.DueBefore = ts
	}
}

// WithSortOrder changes the returned order of subscriptions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
