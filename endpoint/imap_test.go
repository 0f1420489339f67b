package endpoint

import (
	"bufio"
	"strings"
	"testing"
)

func TestExistsPatternExtractsCount(t *testing.T) {
	m := existsPattern.FindStringSubmatch("* 42 EXISTS")
	if m == nil || m[1] != "42" {
		t.Fatalf("expected to extract 42 from EXISTS response, got %v", m)
	}
}

func TestExistsPatternRejectsUnrelatedLine(t *testing.T) {
	if existsPattern.FindStringSubmatch("* OK IMAP4rev1 Service Ready") != nil {
		t.Fatal("did not expect a greeting line to match the EXISTS pattern")
	}
}

func TestRandomChallengeIsNumericAndStable(t *testing.T) {
	c := randomChallenge()
	if len(c) == 0 {
		t.Fatal("expected a non-empty challenge")
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			t.Fatalf("expected a purely numeric challenge, got %q", c)
		}
	}
}

func TestMailboxReturnsDistinctEndpointsSharingStore(t *testing.T) {
	store := NewIMAPStore("imap.example.com", 993, "bot", "secret")
	archive := store.Mailbox("Archive")
	trash := store.Mailbox("Trash")
	archiveDest, ok := archive.(*imapDestination)
	if !ok {
		t.Fatalf("expected *imapDestination, got %T", archive)
	}
	trashDest, ok := trash.(*imapDestination)
	if !ok {
		t.Fatalf("expected *imapDestination, got %T", trash)
	}
	if archiveDest.store != trashDest.store {
		t.Fatal("expected both destinations to share the same underlying store/connection")
	}
	if archiveDest.mailbox == trashDest.mailbox {
		t.Fatal("expected distinct mailbox names for distinct destinations")
	}
}

func TestReadIMAPLineInlinesALiteral(t *testing.T) {
	raw := "* 12 FETCH (BODY[] {5}\r\nhello)\r\nA1 OK FETCH completed\r\n"
	reader := bufio.NewReader(strings.NewReader(raw))

	text, literals, err := readIMAPLine(reader)
	if err != nil {
		t.Fatalf("readIMAPLine: %v", err)
	}
	if len(literals) != 1 || string(literals[0]) != "hello" {
		t.Fatalf("expected one literal %q, got %v", "hello", literals)
	}
	if !strings.Contains(string(text), "FETCH") {
		t.Fatalf("expected the announcing text to survive, got %q", text)
	}

	text, literals, err = readIMAPLine(reader)
	if err != nil {
		t.Fatalf("readIMAPLine (second line): %v", err)
	}
	if len(literals) != 0 {
		t.Fatalf("expected no literal on the tagged completion line, got %v", literals)
	}
	if !strings.Contains(string(text), "OK FETCH completed") {
		t.Fatalf("expected the tagged completion line, got %q", text)
	}
}

func TestReadIMAPLineHandlesCRLFInsideLiteral(t *testing.T) {
	// The literal's 7 bytes include a CRLF that must not be mistaken for
	// a line boundary.
	raw := "* 1 FETCH (BODY[] {7}\r\nfoo\r\nba)\r\n"
	reader := bufio.NewReader(strings.NewReader(raw))

	_, literals, err := readIMAPLine(reader)
	if err != nil {
		t.Fatalf("readIMAPLine: %v", err)
	}
	if len(literals) != 1 || string(literals[0]) != "foo\r\nba" {
		t.Fatalf("expected the literal to include its embedded CRLF intact, got %q", literals)
	}
}

func TestParseSearchUIDsExtractsEveryUID(t *testing.T) {
	uids := parseSearchUIDs([]byte("* SEARCH 3 7 19\n"))
	if len(uids) != 3 || uids[0] != 3 || uids[1] != 7 || uids[2] != 19 {
		t.Fatalf("expected [3 7 19], got %v", uids)
	}
}

func TestParseSearchUIDsEmptyResult(t *testing.T) {
	uids := parseSearchUIDs([]byte("* SEARCH\n"))
	if len(uids) != 0 {
		t.Fatalf("expected no UIDs for an empty SEARCH response, got %v", uids)
	}
}

func TestParseFlagsExtractsFlagList(t *testing.T) {
	flags := parseFlags([]byte("* 1 FETCH (FLAGS (\\Seen triaged) UID 3)\n"))
	if len(flags) != 2 || flags[0] != "\\Seen" || flags[1] != "triaged" {
		t.Fatalf("expected [\\\\Seen triaged], got %v", flags)
	}
}

func TestRecipientsFromHeaderBlobParsesToAndCc(t *testing.T) {
	blob := []byte("To: alice@example.com\r\nCc: bob@example.org, \"Carol X\" <carol@example.net>\r\n")
	addrs := recipientsFromHeaderBlob(blob)
	if len(addrs) != 3 {
		t.Fatalf("expected 3 addresses, got %d: %v", len(addrs), addrs)
	}
	want := map[string]string{"alice": "example.com", "bob": "example.org", "carol": "example.net"}
	for _, a := range addrs {
		if want[a.Mailbox] != a.Host {
			t.Fatalf("unexpected address %+v in %v", a, addrs)
		}
	}
}

func TestRecipientsFromHeaderBlobIgnoresAddressesWithoutAt(t *testing.T) {
	addrs := recipientsFromHeaderBlob([]byte("To: not-an-address\r\n"))
	if len(addrs) != 0 {
		t.Fatalf("expected no addresses extracted from a malformed header, got %v", addrs)
	}
}
