package script

// Compile lowers a checked AST to IR, resolving each (append! "name")
// against the supplied destination table. Only destinations actually
// referenced by the program appear in the resulting IR.Destinations, in
// order of first reference. Compile fails with a *CompileError if an
// "or" has no operands or a name is missing from destinations.
func Compile(program Program, destinations map[DestinationName]Endpoint) (*IR, error) {
	c := &compiler{
		destinations: destinations,
		destIndex:    make(map[DestinationName]int),
	}
	for _, stmt := range program {
		if err := c.compileStmt(stmt); err != nil {
			return nil, err
		}
	}
	return &IR{Instructions: c.insns, Destinations: c.destOrder}, nil
}

type compiler struct {
	insns        []Instruction
	destinations map[DestinationName]Endpoint
	destIndex    map[DestinationName]int
	destOrder    []Endpoint
}

func (c *compiler) emit(insn Instruction) int {
	c.insns = append(c.insns, insn)
	return len(c.insns) - 1
}

func (c *compiler) here() int { return len(c.insns) }

func (c *compiler) patch(at int, target int) {
	c.insns[at].Target = target
}

func (c *compiler) patchAll(at []int, target int) {
	for _, i := range at {
		c.patch(i, target)
	}
}

func (c *compiler) resolveDest(name DestinationName) (int, error) {
	if idx, ok := c.destIndex[name]; ok {
		return idx, nil
	}
	endpoint, ok := c.destinations[name]
	if !ok {
		return 0, newCompileError("unknown destination %q", name)
	}
	idx := len(c.destOrder)
	c.destOrder = append(c.destOrder, endpoint)
	c.destIndex[name] = idx
	return idx, nil
}

func (c *compiler) compileStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case StmtHalt:
		c.emit(Instruction{Op: OpHalt})
		return nil
	case StmtFlag:
		c.emit(Instruction{Op: OpLiteralLabel, Label: s.Label})
		c.emit(Instruction{Op: OpFlag})
		return nil
	case StmtAppend:
		idx, err := c.resolveDest(s.Dest)
		if err != nil {
			return err
		}
		c.emit(Instruction{Op: OpLiteralDest, Dest: idx})
		c.emit(Instruction{Op: OpAppend})
		return nil
	case StmtIf:
		return c.compileIf(s)
	default:
		return newCompileError("unhandled statement type %T", stmt)
	}
}

// compileIf compiles the condition, then patches its true-targets to the
// start of the then-branch and its false-targets to the start of the
// else-branch (or to the instruction following the then-branch, if there
// is no else).
func (c *compiler) compileIf(s StmtIf) error {
	trueJumps, falseJumps, err := c.compileCond(s.Cond)
	if err != nil {
		return err
	}
	c.patchAll(trueJumps, c.here())
	if err := c.compileStmt(s.Then); err != nil {
		return err
	}
	if s.Else != nil {
		endJump := c.emit(Instruction{Op: OpJump})
		c.patchAll(falseJumps, c.here())
		if err := c.compileStmt(s.Else); err != nil {
			return err
		}
		c.patch(endJump, c.here())
	} else {
		c.patchAll(falseJumps, c.here())
	}
	return nil
}

// compileCond lowers a condition to control flow rather than to a pushed
// boolean value. It returns the indices of instructions whose Target must
// be patched to the "condition is true" continuation, and separately to
// the "condition is false" continuation.
//
// Every leaf (Flagged/ReceivedBy) evaluates its predicate exactly once and
// immediately branches on the result, so an Or's operands are compiled
// left to right and an operand is only reached once every operand to its
// left evaluated false: this is a true left-to-right, single-evaluation
// short circuit, not a disjunction of pre-evaluated booleans. The Or
// opcode itself therefore goes unused by this compiler, though it remains
// part of the instruction set for hand-built or deserialized IR.
func (c *compiler) compileCond(cond Cond) (trueJumps, falseJumps []int, err error) {
	switch cc := cond.(type) {
	case CondFlagged:
		c.emit(Instruction{Op: OpLiteralLabel, Label: cc.Label})
		c.emit(Instruction{Op: OpFlagged})
		return c.branchOnStackBool()
	case CondReceivedBy:
		c.emit(Instruction{Op: OpLiteralRecipientPattern, Pattern: cc.Pattern})
		c.emit(Instruction{Op: OpReceivedBy})
		return c.branchOnStackBool()
	case CondOr:
		if len(cc.Operands) == 0 {
			return nil, nil, newCompileError("or needs at least one argument")
		}
		var allTrue []int
		var pendingFalse []int
		for i, operand := range cc.Operands {
			t, f, err := c.compileCond(operand)
			if err != nil {
				return nil, nil, err
			}
			allTrue = append(allTrue, t...)
			if i < len(cc.Operands)-1 {
				c.patchAll(f, c.here())
			} else {
				pendingFalse = f
			}
		}
		return allTrue, pendingFalse, nil
	default:
		return nil, nil, newCompileError("unhandled condition type %T", cond)
	}
}

// branchOnStackBool consumes the boolean a leaf predicate just pushed and
// turns it into two jump lists: JumpFalse handles the false case directly,
// and an immediately following unconditional Jump handles the true case
// (JumpFalse falls through to it only when the popped value was true).
func (c *compiler) branchOnStackBool() (trueJumps, falseJumps []int, err error) {
	jf := c.emit(Instruction{Op: OpJumpFalse})
	jt := c.emit(Instruction{Op: OpJump})
	return []int{jt}, []int{jf}, nil
}
