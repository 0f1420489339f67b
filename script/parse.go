package script

// ParseProgram reads zero or more top-level statement forms from source
// text and returns the checked AST, or a *ParseError describing the first
// offending form.
func ParseProgram(source string) (Program, error) {
	forms, err := newSexpReader(source).ReadAll()
	if err != nil {
		return nil, err
	}
	program := make(Program, 0, len(forms))
	for _, form := range forms {
		stmt, err := parseStmt(form)
		if err != nil {
			return nil, err
		}
		program = append(program, stmt)
	}
	return program, nil
}

func asList(form interface{}) (sexpList, bool) {
	l, ok := form.(sexpList)
	return l, ok
}

func headSymbol(list sexpList) (sexpSymbol, bool) {
	if len(list) == 0 {
		return "", false
	}
	sym, ok := list[0].(sexpSymbol)
	return sym, ok
}

func parseStmt(form interface{}) (Stmt, error) {
	list, ok := asList(form)
	if !ok {
		return nil, newParseError("expected a statement form such as (if ...), (append! ...), (flag! ...) or (halt!), got %#v", form)
	}
	head, ok := headSymbol(list)
	if !ok {
		return nil, newParseError("statement form must begin with a symbol, got %#v", list)
	}
	switch head {
	case "if":
		return parseIf(list)
	case "append!":
		return parseAppend(list)
	case "flag!":
		return parseFlag(list)
	case "halt!":
		return parseHalt(list)
	default:
		return nil, newParseError("unknown statement head %q", head)
	}
}

func parseIf(list sexpList) (Stmt, error) {
	// (if COND THEN) or (if COND THEN ELSE)
	if len(list) != 3 && len(list) != 4 {
		return nil, newParseError("if requires a condition and a then-branch, with an optional else-branch: %#v", list)
	}
	cond, err := parseCond(list[1])
	if err != nil {
		return nil, err
	}
	then, err := parseStmt(list[2])
	if err != nil {
		return nil, err
	}
	var elseStmt Stmt
	if len(list) == 4 {
		elseStmt, err = parseStmt(list[3])
		if err != nil {
			return nil, err
		}
	}
	return StmtIf{Cond: cond, Then: then, Else: elseStmt}, nil
}

func stringArg(form interface{}) (string, bool) {
	s, ok := form.(sexpString)
	return string(s), ok
}

func parseAppend(list sexpList) (Stmt, error) {
	if len(list) != 2 {
		return nil, newParseError("append! requires exactly one destination name string: %#v", list)
	}
	name, ok := stringArg(list[1])
	if !ok {
		return nil, newParseError("append! argument must be a quoted destination name string, got %#v", list[1])
	}
	return StmtAppend{Dest: DestinationName(name)}, nil
}

func parseFlag(list sexpList) (Stmt, error) {
	if len(list) != 2 {
		return nil, newParseError("flag! requires exactly one label string: %#v", list)
	}
	label, ok := stringArg(list[1])
	if !ok {
		return nil, newParseError("flag! argument must be a quoted label string, got %#v", list[1])
	}
	return StmtFlag{Label: Label(label)}, nil
}

func parseHalt(list sexpList) (Stmt, error) {
	if len(list) != 1 {
		return nil, newParseError("halt! takes no arguments: %#v", list)
	}
	return StmtHalt{}, nil
}

func parseCond(form interface{}) (Cond, error) {
	list, ok := asList(form)
	if !ok {
		return nil, newParseError("expected a condition form such as (or ...), (flagged ...) or (received-by ...), got %#v", form)
	}
	head, ok := headSymbol(list)
	if !ok {
		return nil, newParseError("condition form must begin with a symbol, got %#v", list)
	}
	switch head {
	case "or":
		return parseOr(list)
	case "flagged":
		return parseFlagged(list)
	case "received-by":
		return parseReceivedBy(list)
	default:
		return nil, newParseError("unknown condition head %q", head)
	}
}

func parseOr(list sexpList) (Cond, error) {
	// (or COND COND ...). Zero operands is syntactically accepted here;
	// the compiler rejects it once it knows no short-circuit target exists.
	operands := make([]Cond, 0, len(list)-1)
	for _, sub := range list[1:] {
		cond, err := parseCond(sub)
		if err != nil {
			return nil, err
		}
		operands = append(operands, cond)
	}
	return CondOr{Operands: operands}, nil
}

func parseFlagged(list sexpList) (Cond, error) {
	if len(list) != 2 {
		return nil, newParseError("flagged requires exactly one label string: %#v", list)
	}
	label, ok := stringArg(list[1])
	if !ok {
		return nil, newParseError("flagged argument must be a quoted label string, got %#v", list[1])
	}
	return CondFlagged{Label: Label(label)}, nil
}

func parseReceivedBy(list sexpList) (Cond, error) {
	if len(list) != 2 {
		return nil, newParseError("received-by requires exactly one pattern string: %#v", list)
	}
	patternSource, ok := stringArg(list[1])
	if !ok {
		return nil, newParseError("received-by argument must be a quoted pattern string, got %#v", list[1])
	}
	pattern, err := ParseRecipientPattern(patternSource)
	if err != nil {
		return nil, err
	}
	return CondReceivedBy{Pattern: pattern}, nil
}
