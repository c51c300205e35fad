package migrations

import (
	"context"

	"github.com/evpower/balancehub/db/models"
	"github.com/uptrace/bun"
)

/*
	Since this init will reflect the latest model fields when run on fresh db

make sure that when you add/remove columns in subsequent migrations IfNotExists/IfExists is used
otherwise it's going to result in errors.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Balance)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.Invoice)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.Transaction)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		// one invoice per client per idempotency key
		if _, err := db.NewCreateIndex().
			Model((*models.Invoice)(nil)).
			Index("invoices_client_id_idempotency_key_idx").
			Unique().
			Column("client_id", "idempotency_key").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model((*models.Transaction)(nil)).
			Index("transactions_client_id_created_at_idx").
			Column("client_id", "created_at").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		return nil
	}, nil)
}
