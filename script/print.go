package script

import (
	"fmt"
	"strconv"
	"strings"
)

// String renders the program back to S-expression source text. The output
// re-parses to an AST equal to the one it was printed from (modulo
// whitespace).
func (p Program) String() string {
	var b strings.Builder
	for i, stmt := range p {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeStmt(&b, stmt)
	}
	return b.String()
}

func quote(s string) string {
	return strconv.Quote(s)
}

func writeStmt(b *strings.Builder, stmt Stmt) {
	switch s := stmt.(type) {
	case StmtHalt:
		b.WriteString("(halt!)")
	case StmtFlag:
		fmt.Fprintf(b, "(flag! %s)", quote(string(s.Label)))
	case StmtAppend:
		fmt.Fprintf(b, "(append! %s)", quote(string(s.Dest)))
	case StmtIf:
		b.WriteString("(if ")
		writeCond(b, s.Cond)
		b.WriteByte(' ')
		writeStmt(b, s.Then)
		if s.Else != nil {
			b.WriteByte(' ')
			writeStmt(b, s.Else)
		}
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<unknown statement %T>", stmt)
	}
}

func patternSource(p RecipientPattern) string {
	var b strings.Builder
	if p.Mailbox != nil {
		b.WriteString(*p.Mailbox)
	}
	if p.Plus != nil {
		b.WriteByte('+')
		b.WriteString(*p.Plus)
	}
	b.WriteByte('@')
	if p.Host != nil {
		b.WriteString(*p.Host)
	}
	return b.String()
}

func writeCond(b *strings.Builder, cond Cond) {
	switch c := cond.(type) {
	case CondFlagged:
		fmt.Fprintf(b, "(flagged %s)", quote(string(c.Label)))
	case CondReceivedBy:
		fmt.Fprintf(b, "(received-by %s)", quote(patternSource(c.Pattern)))
	case CondOr:
		b.WriteString("(or")
		for _, operand := range c.Operands {
			b.WriteByte(' ')
			writeCond(b, operand)
		}
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<unknown condition %T>", cond)
	}
}

// String renders the IR as a debug-friendly, line-numbered instruction
// listing. The format is stable enough to diff across runs but is not a
// persistent or re-parseable format.
func (ir *IR) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "; %d destination(s)\n", len(ir.Destinations))
	for i, insn := range ir.Instructions {
		fmt.Fprintf(&b, "%4d: %s\n", i, insn.String())
	}
	return b.String()
}

func (insn Instruction) String() string {
	switch insn.Op {
	case OpLiteralLabel:
		return fmt.Sprintf("LiteralLabel %s", quote(string(insn.Label)))
	case OpLiteralRecipientPattern:
		return fmt.Sprintf("LiteralRecipientPattern %s", quote(patternSource(insn.Pattern)))
	case OpLiteralDest:
		return fmt.Sprintf("LiteralDest %d", insn.Dest)
	case OpJump, OpJumpFalse:
		return fmt.Sprintf("%s -> %d", insn.Op, insn.Target)
	default:
		return insn.Op.String()
	}
}
