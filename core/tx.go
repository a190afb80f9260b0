package core

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TxRunner runs fn inside one database transaction; a non-nil error from fn rolls it back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error
}
