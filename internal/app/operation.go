package app

// Operation tracks a CLI command that may mutate the registry.
// Operations are created in memory with ID=0. Only registry-mutating
// commands persist them, which gives them an auto-increment ID that also
// versions the registry snapshot in the vault.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
	Summary    string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the registry.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record notes the outcome of one step. The first error marks the
// operation failed and becomes its summary.
func (op *Operation) Record(err error) error {
	if err != nil && op.Status != "error" {
		op.Status = "error"
		op.Summary = err.Error()
	}
	return err
}
