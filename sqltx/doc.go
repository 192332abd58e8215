// Package sqltx implements atomfeed.TxManager on top of database/sql.
//
// The transaction opened by Manager travels in the context. Code running
// inside a unit of work, stores and event workers alike, obtains it with From
// so that every statement joins the same transaction:
//
//	err := mgr.RunInTransaction(ctx, atomfeed.PropagationRequired, func(ctx context.Context) error {
//		_, err := sqltx.From(ctx, db).ExecContext(ctx, "UPDATE accounts SET ...")
//		return err
//	})
package sqltx
