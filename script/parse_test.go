package script

import (
	"reflect"
	"testing"
)

func TestParseProgramRoundTrip(t *testing.T) {
	source := `(if (or (flagged "seen") (received-by "alice+work@example.com")) (append! "archive") (flag! "triaged"))
(halt!)`
	program, err := ParseProgram(source)
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	printed := program.String()
	reparsed, err := ParseProgram(printed)
	if err != nil {
		t.Fatalf("ParseProgram(printed): %v\nprinted:\n%s", err, printed)
	}
	if !reflect.DeepEqual(program, reparsed) {
		t.Fatalf("round trip mismatch:\noriginal: %#v\nreparsed: %#v\nprinted:\n%s", program, reparsed, printed)
	}
}

func TestParseProgramEmptyOrIsAccepted(t *testing.T) {
	// Zero operands is a parse-level non-error; only Compile rejects it.
	program, err := ParseProgram(`(if (or) (halt!))`)
	if err != nil {
		t.Fatalf("expected (or) to parse: %v", err)
	}
	stmt, ok := program[0].(StmtIf)
	if !ok {
		t.Fatalf("expected StmtIf, got %T", program[0])
	}
	or, ok := stmt.Cond.(CondOr)
	if !ok {
		t.Fatalf("expected CondOr, got %T", stmt.Cond)
	}
	if len(or.Operands) != 0 {
		t.Fatalf("expected zero operands, got %d", len(or.Operands))
	}
}

func TestParseProgramRejectsUnknownStatementHead(t *testing.T) {
	if _, err := ParseProgram(`(frobnicate!)`); err == nil {
		t.Fatal("expected an error for an unknown statement head")
	}
}

func TestParseProgramRejectsUnterminatedList(t *testing.T) {
	if _, err := ParseProgram(`(halt!`); err == nil {
		t.Fatal("expected an error for an unterminated list")
	}
}

func TestParseProgramRejectsMalformedIf(t *testing.T) {
	if _, err := ParseProgram(`(if (flagged "x"))`); err == nil {
		t.Fatal("expected an error for an if missing its then-branch")
	}
}

func TestParseProgramLineComments(t *testing.T) {
	source := "; a comment\n(halt!) ; trailing comment"
	program, err := ParseProgram(source)
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	if len(program) != 1 {
		t.Fatalf("expected one statement, got %d", len(program))
	}
	if _, ok := program[0].(StmtHalt); !ok {
		t.Fatalf("expected StmtHalt, got %T", program[0])
	}
}
