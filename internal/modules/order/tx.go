// README: Unit of work; order, earnings, wallet and outbox writes share one Postgres transaction.
package order

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drop/internal/infra"
	"drop/internal/modules/earnings"
	"drop/internal/modules/outbox"
	"drop/internal/modules/wallet"
)

// UnitOfWork exposes stores bound to a single transaction.
type UnitOfWork interface {
	Orders() Repository
	Earnings() earnings.Store
	Wallets() wallet.Store
	Events() outbox.Writer
}

type Transactor interface {
	// Orders returns a repository for reads outside any transaction.
	Orders() Repository
	// Within commits when fn returns nil and rolls everything back otherwise.
	Within(ctx context.Context, fn func(uow UnitOfWork) error) error
}

type PGTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PGTransactor {
	return &PGTransactor{pool: pool}
}

func (t *PGTransactor) Orders() Repository {
	return NewStore(t.pool)
}

func (t *PGTransactor) Within(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return infra.WithTx(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(pgUnit{tx: tx})
	})
}

type pgUnit struct {
	tx pgx.Tx
}

func (u pgUnit) Orders() Repository { return NewStore(u.tx) }
func (u pgUnit) Earnings() earnings.Store { return earnings.NewStore(u.tx) }
func (u pgUnit) Wallets() wallet.Store { return wallet.NewStore(u.tx) }
func (u pgUnit) Events() outbox.Writer { return outbox.NewStore(u.tx) }
