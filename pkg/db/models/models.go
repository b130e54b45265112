package models

// All lists every table owned by the sync subsystem, in creation order.
func All() []any {
	return []any{
		&LocalEvent{},
		&DeviceSequence{},
		&SyncCheckpoint{},
		&LocalConflict{},
		&FiscalRange{},
		&Product{},
		&Customer{},
		&Debt{},
		&StockLedger{},
		&EscrowGrant{},
		&AppliedEvent{},
	}
}

// ReadModels lists the projection tables rebuilt by a replay.
func ReadModels() []any {
	return []any{
		&Product{},
		&Customer{},
		&Debt{},
		&StockLedger{},
		&EscrowGrant{},
		&AppliedEvent{},
	}
}
