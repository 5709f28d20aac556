package oplog

import (
	"context"

	"github.com/INLOpen/nexusconf/core"
)

// Policy selects how replay reacts to a failing operation.
type Policy uint8

const (
	// FailFast aborts on the first failure; used by commit, which never
	// accepts a partial result.
	FailFast Policy = iota
	// ContinueOnError flags failing operations and keeps going; used by
	// session refresh.
	ContinueOnError
)

// Target applies one operation to whatever tree set the caller is
// replaying onto.
type Target interface {
	Apply(ctx context.Context, op *core.Operation) error
}

// Replay re-executes ops, in order, against target. Operations whose
// module is in skip are not re-applied: the on-disk content for those
// modules is unchanged since the owning session loaded them, so the
// session's in-memory tree is already correct.
//
// Under FailFast the first failure aborts and is returned. Under
// ContinueOnError each failing operation is flagged HasError in place
// and skipped; the returned error then aggregates one (message, path)
// entry per failure, and the caller is responsible for dropping
// exactly the flagged operations from its log.
func Replay(ctx context.Context, ops []core.Operation, target Target, skip map[string]bool, policy Policy) error {
	var agg *core.OperationError
	for i := range ops {
		op := &ops[i]
		if skip[op.Module] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return core.NewError(core.CodeInternal, op.Path, "replay canceled: %v", err)
		}
		err := target.Apply(ctx, op)
		if err == nil {
			continue
		}
		if policy == FailFast {
			return err
		}
		op.HasError = true
		if agg == nil {
			agg = &core.OperationError{Code: core.CodeOperationFailed}
		}
		agg.Append(op.Path, "replay of %s failed: %v", op, err)
	}
	if agg != nil {
		return agg
	}
	return nil
}
