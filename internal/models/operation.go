package models

// OperationType represents the type of storage write
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Operation represents a single write of one record. Record is nil for deletes.
type Operation struct {
	Type       OperationType
	Identifier string
	Classname  string
	Record     *RecordData
}

// Changeset is the ordered set of writes of one commit. Stores apply it atomically.
type Changeset struct {
	Operations []*Operation
	index      map[string]int
}

// NewChangeset creates an empty changeset.
func NewChangeset() *Changeset {
	return &Changeset{index: make(map[string]int)}
}

// Put records an insert or update. A later write to the same identifier replaces
// the earlier one.
func (c *Changeset) Put(opType OperationType, rec *RecordData) {
	c.add(&Operation{Type: opType, Identifier: rec.Identifier, Classname: rec.Classname, Record: rec})
}

// Delete records the removal of identifier.
func (c *Changeset) Delete(identifier, classname string) {
	c.add(&Operation{Type: OperationDelete, Identifier: identifier, Classname: classname})
}

func (c *Changeset) add(op *Operation) {
	if i, ok := c.index[op.Identifier]; ok {
		c.Operations[i] = op
		return
	}
	c.index[op.Identifier] = len(c.Operations)
	c.Operations = append(c.Operations, op)
}

// Lookup returns the pending write for identifier.
func (c *Changeset) Lookup(identifier string) (*Operation, bool) {
	i, ok := c.index[identifier]
	if !ok {
		return nil, false
	}
	return c.Operations[i], true
}

// Len returns the number of pending writes.
func (c *Changeset) Len() int {
	return len(c.Operations)
}
