package agent

// Slot holds the current transaction of one logical execution (a request, a
// job). It is not safe for concurrent use; concurrent executions each get
// their own Slot.
type Slot struct {
	tx Transaction
}

// Current returns the transaction stored in the slot, or nil if there is
// none or it has ended.
func (s *Slot) Current() Transaction {
	if s == nil || s.tx == nil || s.tx.Ended() {
		return nil
	}
	return s.tx
}

// Load returns the stored transaction even if it has ended.
func (s *Slot) Load() Transaction {
	if s == nil {
		return nil
	}
	return s.tx
}

// Store replaces the stored transaction.
func (s *Slot) Store(tx Transaction) {
	s.tx = tx
}
