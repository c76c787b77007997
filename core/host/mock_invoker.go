package host

// InvokeRecord captures one native call seen by a RecordingInvoker.
type InvokeRecord struct {
	Instruction *Instruction
	Signers     []Pubkey

	// Snapshot of the signer cells at invocation time.
	Cells map[Pubkey]*Account
}

// RecordingInvoker is an Invoker that remembers every call and optionally
// forwards it to a real runtime or fails it.
type RecordingInvoker struct {
	Next  Invoker
	Fail  error
	Calls []InvokeRecord
}

func (r *RecordingInvoker) Invoke(store Storage, ix *Instruction, signers []Pubkey) error {
	rec := InvokeRecord{
		Instruction: ix,
		Signers:     append([]Pubkey(nil), signers...),
		Cells:       make(map[Pubkey]*Account),
	}
	for _, meta := range ix.Accounts {
		acc, err := store.GetAccount(meta.Pubkey)
		if err != nil {
			return err
		}
		rec.Cells[meta.Pubkey] = acc
	}
	r.Calls = append(r.Calls, rec)
	if r.Fail != nil {
		return r.Fail
	}
	if r.Next != nil {
		return r.Next.Invoke(store, ix, signers)
	}
	return nil
}
