package script

// Cond is a recursive, tagged boolean expression. The concrete variants
// are CondOr, CondFlagged, and CondReceivedBy; callers type-switch on the
// interface rather than relying on virtual dispatch.
type Cond interface {
	isCond()
}

// CondOr is a short-circuit disjunction of one or more operands. An empty
// Operands slice is syntactically representable (the parser accepts it)
// but is rejected at compile time with "or needs at least one argument".
type CondOr struct {
	Operands []Cond
}

// CondFlagged is true iff the message carries the given label.
type CondFlagged struct {
	Label Label
}

// CondReceivedBy is true iff any of the message's recipients match the
// given pattern.
type CondReceivedBy struct {
	Pattern RecipientPattern
}

func (CondOr) isCond()         {}
func (CondFlagged) isCond()    {}
func (CondReceivedBy) isCond() {}

// Stmt is a recursive, tagged program statement. The concrete variants are
// StmtIf, StmtAppend, StmtFlag, and StmtHalt.
type Stmt interface {
	isStmt()
}

// StmtIf evaluates Cond and runs Then if it is true, else Else (Else may
// be nil, meaning "do nothing").
type StmtIf struct {
	Cond Cond
	Then Stmt
	Else Stmt
}

// StmtAppend requests that the current message be copied to the named
// destination store.
type StmtAppend struct {
	Dest DestinationName
}

// StmtFlag requests that the given label be set on the source message.
type StmtFlag struct {
	Label Label
}

// StmtHalt stops processing the current message.
type StmtHalt struct{}

func (StmtIf) isStmt()     {}
func (StmtAppend) isStmt() {}
func (StmtFlag) isStmt()   {}
func (StmtHalt) isStmt()   {}

// Program is a sequence of top-level statements executed in order until a
// StmtHalt or the end of the sequence.
type Program []Stmt
