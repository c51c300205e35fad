package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level checks can not be enabled!\n")
			return nil
		}
		sql := `
			-- a successful ledger entry must move the balance by exactly its amount
			ALTER TABLE transactions
			ADD CONSTRAINT check_balance_identity
			CHECK (status <> 'success' OR balance_after = balance_before + amount);

			-- once an entry left pending it never changes status again
			CREATE OR REPLACE FUNCTION check_transaction_status()
				RETURNS TRIGGER AS $$
			BEGIN
				IF OLD.status <> 'pending' AND NEW.status <> OLD.status
				THEN
					RAISE EXCEPTION 'transaction status is terminal [id:%] [status:%] -> [%]',
					OLD.id,
					OLD.status,
					NEW.status;
				END IF;
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			CREATE TRIGGER check_transaction_status
				BEFORE UPDATE ON transactions
				FOR EACH ROW
				EXECUTE PROCEDURE check_transaction_status();
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		sql := `
			DROP TRIGGER IF EXISTS check_transaction_status ON transactions;
			DROP FUNCTION IF EXISTS check_transaction_status();
			ALTER TABLE transactions DROP CONSTRAINT IF EXISTS check_balance_identity;
		`
		_, err := db.Exec(sql)
		return err
	})
}
