package gateway

import "context"

// RecordFile validates rec and inserts it through tx. It does not commit;
// the enclosing Repository.WithTx owns the transaction outcome. Columns the
// store fills in, such as CreatedAt, are written back to rec.
func RecordFile(ctx context.Context, tx Tx, rec *FileRecord) error {
	if rec == nil {
		return &ValidationError{Fields: map[string]string{"record": "is required"}}
	}
	if err := ValidateFileRecord(*rec); err != nil {
		return err
	}
	return tx.InsertFileRecord(ctx, rec)
}
