package ext2fs

// rollback collects undo actions for a multi-step allocation (inode alloc,
// then maybe a data block, then a directory entry) so that a failure partway
// through can unwind everything already committed instead of leaking an
// allocated-but-unreferenced resource. Actions run in reverse registration
// order, mirroring how the steps themselves must unwind: free what was
// allocated last first.
type rollback struct {
	fs      *FileSystem
	actions []func() error
}

func newRollback(fs *FileSystem) *rollback {
	return &rollback{fs: fs}
}

func (r *rollback) add(undo func() error) {
	r.actions = append(r.actions, undo)
}

// run executes every undo action, most recent first. A failing undo is
// logged and not retried -- the resource it covered then stays allocated
// without anything referencing it.
func (r *rollback) run() {
	for i := len(r.actions) - 1; i >= 0; i-- {
		if err := r.actions[i](); err != nil {
			r.fs.log.Warnf("rollback step failed: %v", err)
		}
	}
}

// commit discards the recorded actions without running them, once every
// step has succeeded and nothing needs undoing.
func (r *rollback) commit() {
	r.actions = nil
}
