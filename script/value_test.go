package script

import "testing"

func mustPattern(t *testing.T, source string) RecipientPattern {
	t.Helper()
	p, err := ParseRecipientPattern(source)
	if err != nil {
		t.Fatalf("ParseRecipientPattern(%q): %v", source, err)
	}
	return p
}

func TestRecipientPatternCaseInsensitivity(t *testing.T) {
	p := mustPattern(t, "Foo@BAR.com")
	if !p.Match(Recipient{Mailbox: "foo", Host: "bar.com"}) {
		t.Fatal("expected match for lower-case recipient")
	}
	p2 := mustPattern(t, "foo@bar.com")
	if !p2.Match(Recipient{Mailbox: "Foo", Host: "BAR.com"}) {
		t.Fatal("expected match for upper-case recipient")
	}
}

func TestRecipientPatternPlusAddressing(t *testing.T) {
	p := mustPattern(t, "alice+work@example.com")
	if !p.Match(Recipient{Mailbox: "alice+work", Host: "example.com"}) {
		t.Fatal("expected exact plus match")
	}
	if p.Match(Recipient{Mailbox: "alice+personal", Host: "example.com"}) {
		t.Fatal("did not expect mismatched plus suffix to match")
	}
	if p.Match(Recipient{Mailbox: "alice", Host: "example.com"}) {
		t.Fatal("did not expect bare mailbox (no plus) to match a +work pattern")
	}
}

func TestRecipientPatternMailboxOnlyMatchesAnyHost(t *testing.T) {
	// "fx@" -- mailbox "fx", host absent.
	p := mustPattern(t, "fx@")
	if !p.Match(Recipient{Mailbox: "fx", Host: "example.org"}) {
		t.Fatal("expected mailbox-only pattern to match regardless of host")
	}
	if !p.Match(Recipient{Mailbox: "fx+anything", Host: "example.org"}) {
		t.Fatal("expected mailbox-only pattern to ignore the plus segment")
	}
	if p.Match(Recipient{Mailbox: "other", Host: "example.org"}) {
		t.Fatal("did not expect mismatched mailbox to match")
	}
}

func TestRecipientPatternNonASCIIByteExact(t *testing.T) {
	// U+00E9 (lower-case e acute) vs U+00C9 (upper-case E acute): distinct
	// byte sequences that only Unicode-aware case folding would equate.
	p := mustPattern(t, "fox@d\xc3\xa9n.com")
	if !p.Match(Recipient{Mailbox: "fox", Host: "d\xc3\xa9n.com"}) {
		t.Fatal("expected identical non-ASCII bytes to match")
	}
	if p.Match(Recipient{Mailbox: "fox", Host: "D\xc3\x89N.COM"}) {
		t.Fatal("did not expect non-ASCII bytes to fold under ASCII-only case-insensitive compare")
	}
}

func TestParseRecipientPatternRejectsBareAt(t *testing.T) {
	if _, err := ParseRecipientPattern("@"); err == nil {
		t.Fatal("expected a bare @ to be rejected")
	}
}

func TestParseRecipientPatternRejectsMissingAt(t *testing.T) {
	if _, err := ParseRecipientPattern("nobody-here"); err == nil {
		t.Fatal("expected a pattern without @ to be rejected")
	}
}

func TestParseRecipientPatternHostOnly(t *testing.T) {
	p := mustPattern(t, "@example.com")
	if !p.Match(Recipient{Mailbox: "anyone", Host: "example.com"}) {
		t.Fatal("expected host-only pattern to match any mailbox")
	}
}
