package script

import (
	"strings"
	"testing"
)

func TestIRStringListsInstructionsAndDestinationCount(t *testing.T) {
	ir := compileSource(t, `(append! "archive")`, map[DestinationName]Endpoint{"archive": &stubEndpoint{name: "archive"}})
	out := ir.String()
	if !strings.Contains(out, "1 destination(s)") {
		t.Fatalf("expected destination count header, got:\n%s", out)
	}
	if !strings.Contains(out, "LiteralDest") || !strings.Contains(out, "Append") {
		t.Fatalf("expected LiteralDest/Append instructions listed, got:\n%s", out)
	}
}

func TestProgramStringPreservesElseBranch(t *testing.T) {
	program, err := ParseProgram(`(if (flagged "x") (halt!) (flag! "y"))`)
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	out := program.String()
	if !strings.Contains(out, `(flag! "y")`) {
		t.Fatalf("expected the else-branch to be printed, got: %s", out)
	}
}

func TestProgramStringOmitsMissingElseBranch(t *testing.T) {
	program, err := ParseProgram(`(if (flagged "x") (halt!))`)
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	out := program.String()
	if strings.Count(out, "(") != strings.Count(out, ")") {
		t.Fatalf("unbalanced parens in printed program: %s", out)
	}
	reparsed, err := ParseProgram(out)
	if err != nil {
		t.Fatalf("ParseProgram(printed): %v", err)
	}
	if reparsed[0].(StmtIf).Else != nil {
		t.Fatal("expected no else-branch to round-trip back to nil")
	}
}
