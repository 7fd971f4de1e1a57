package fieldkit

// Transaction is one queued local edit: a pure function from the
// current flattened state to the partial field map it wants written.
// Transactions are appended, never mutated, and replayed in insertion
// order. Relationship-field edits must read the live state they are
// handed, not values captured at closure creation.
type Transaction func(state FieldMap) (FieldMap, error)

// Patch wraps a constant field delta as a transaction. Restored
// backups and plain field revisions both come through here.
func Patch(delta FieldMap) Transaction {
	return func(FieldMap) (FieldMap, error) {
		return delta, nil
	}
}

// Replay folds the transaction log over a baseline and returns the net
// field delta. Each transaction sees the working snapshot as mutated
// by its predecessors; a field makes it into the delta only if its
// final value still differs from the untouched baseline, so edits that
// get reverted later are elided. An erroring transaction aborts the
// whole replay.
func Replay(baseline FieldMap, log []Transaction) (delta FieldMap, err error) {
	delta = FieldMap{}
	if len(log) == 0 {
		return
	}
	work := cloneFields(baseline)
	touched := make(map[string]struct{})
	for _, txn := range log {
		patch, terr := txn(cloneFields(work))
		if terr != nil {
			return nil, terr
		}
		for name, value := range patch {
			if !fieldEq(work[name], value) {
				work[name] = value
				touched[name] = struct{}{}
			}
		}
	}
	for name := range touched {
		if !fieldEq(work[name], baseline[name]) {
			delta[name] = work[name]
		}
	}
	return
}
