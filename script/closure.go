package script

import "context"

// Closure is a per-message (or per-batch) execution context: a borrow of
// a compiled IR, a parallel vector of lazily-opened destination writer
// slots, and the source endpoint used to set labels. A Closure is created
// fresh per batch and Finish'd once, disconnecting every writer it opened.
type Closure struct {
	ir      *IR
	source  SourceEndpoint
	writers []Writer // parallel to ir.Destinations; nil until first Append to that index

	appended int
	flagged  int
	halted   bool
}

// NewClosure creates a closure bound to ir and source. ir is shared by
// reference and may be safely used by multiple concurrent closures; the
// writer slots below belong to this closure alone.
func NewClosure(ir *IR, source SourceEndpoint) *Closure {
	return &Closure{
		ir:      ir,
		source:  source,
		writers: make([]Writer, len(ir.Destinations)),
	}
}

// Appended reports how many times Process ran an append! against a
// destination during its most recent call.
func (c *Closure) Appended() int { return c.appended }

// Flagged reports how many times Process ran a flag! against the source
// message during its most recent call.
func (c *Closure) Flagged() int { return c.flagged }

// Halted reports whether Process's most recent call reached a halt!.
func (c *Closure) Halted() bool { return c.halted }

// stackValue is the tagged union the operand stack holds: exactly one of
// these four kinds is ever meaningful for a given value. Runtime type
// checks here are defensive only; a well-formed IR cannot produce a
// mismatch.
type stackKind int

const (
	stackLabel stackKind = iota
	stackPattern
	stackDest
	stackBool
)

type stackValue struct {
	kind    stackKind
	label   Label
	pattern RecipientPattern
	dest    int
	boolean bool
}

// Process evaluates the closure's IR against msg, starting at instruction
// 0. Side-effecting opcodes (Append, Flag) take effect immediately, in
// program order; if one fails, no later instruction runs for this message
// and the error is returned. Labels already set and destinations already
// appended to are not rolled back.
func (c *Closure) Process(ctx context.Context, msg Message) error {
	c.appended, c.flagged, c.halted = 0, 0, false
	var stack []stackValue
	push := func(v stackValue) { stack = append(stack, v) }
	pop := func(kind stackKind) (stackValue, error) {
		if len(stack) == 0 {
			return stackValue{}, newRuntimeError("pop from empty stack")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v.kind != kind {
			return stackValue{}, newRuntimeError("stack type error: expected kind %d, found kind %d", kind, v.kind)
		}
		return v, nil
	}

	pc := 0
	for pc < len(c.ir.Instructions) {
		if err := ctx.Err(); err != nil {
			return err
		}
		insn := c.ir.Instructions[pc]
		switch insn.Op {
		case OpLiteralLabel:
			push(stackValue{kind: stackLabel, label: insn.Label})
		case OpLiteralRecipientPattern:
			push(stackValue{kind: stackPattern, pattern: insn.Pattern})
		case OpLiteralDest:
			push(stackValue{kind: stackDest, dest: insn.Dest})
		case OpFlagged:
			v, err := pop(stackLabel)
			if err != nil {
				return err
			}
			push(stackValue{kind: stackBool, boolean: msg.HasLabel(v.label)})
		case OpReceivedBy:
			v, err := pop(stackPattern)
			if err != nil {
				return err
			}
			push(stackValue{kind: stackBool, boolean: msg.ReceivedBy(v.pattern)})
		case OpOr:
			b, err := pop(stackBool)
			if err != nil {
				return err
			}
			a, err := pop(stackBool)
			if err != nil {
				return err
			}
			push(stackValue{kind: stackBool, boolean: a.boolean || b.boolean})
		case OpAppend:
			v, err := pop(stackDest)
			if err != nil {
				return err
			}
			if v.dest < 0 || v.dest >= len(c.ir.Destinations) {
				return newRuntimeError("destination index %d out of range", v.dest)
			}
			writer, err := c.writerFor(ctx, v.dest)
			if err != nil {
				return err
			}
			if err := writer.Append(ctx, msg); err != nil {
				return err
			}
			c.appended++
		case OpFlag:
			v, err := pop(stackLabel)
			if err != nil {
				return err
			}
			if err := c.source.SetLabel(ctx, msg.UID(), v.label); err != nil {
				return err
			}
			c.flagged++
		case OpHalt:
			c.halted = true
			return nil
		case OpJump:
			pc = insn.Target
			continue
		case OpJumpFalse:
			v, err := pop(stackBool)
			if err != nil {
				return err
			}
			if !v.boolean {
				pc = insn.Target
				continue
			}
		default:
			return newRuntimeError("unknown opcode %v", insn.Op)
		}
		pc++
	}
	return nil
}

// writerFor returns the already-open writer for destination index idx,
// opening one through the endpoint factory on first use.
func (c *Closure) writerFor(ctx context.Context, idx int) (Writer, error) {
	if c.writers[idx] != nil {
		return c.writers[idx], nil
	}
	writer, err := c.ir.Destinations[idx].OpenWriter(ctx)
	if err != nil {
		return nil, err
	}
	c.writers[idx] = writer
	return writer, nil
}

// Finish disconnects every writer this closure opened, in order. A
// disconnect error is recorded but does not prevent the remaining writers
// from also being asked to disconnect; deliveries are considered
// committed once Append returned successfully, so a disconnect failure
// here never undoes them.
func (c *Closure) Finish(ctx context.Context) error {
	var firstErr error
	for _, writer := range c.writers {
		if writer == nil {
			continue
		}
		if err := writer.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
