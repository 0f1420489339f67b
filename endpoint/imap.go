package endpoint

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kivikakk/recogedor/lalog"
	"github.com/kivikakk/recogedor/script"
)

// ioTimeout bounds every individual IMAP conversation turn.
const ioTimeout = 30 * time.Second

var (
	existsPattern   = regexp.MustCompile(`\* (\d+) EXISTS`)
	searchPattern   = regexp.MustCompile(`\* SEARCH((?: \d+)*)`)
	flagsPattern    = regexp.MustCompile(`(?i)FLAGS \(([^)]*)\)`)
	trailingLiteral = regexp.MustCompile(`\{(\d+)\+?\}$`)
)

// IMAPStore is both a source endpoint (fetching new mail, setting labels)
// and a destination endpoint (appending mail to a named mailbox). A single
// TCP/TLS connection carries the whole conversation, serialized by
// connMutex the way toolbox/imaps.go's IMAPS client serializes converse
// calls with its own clientMutex.
type IMAPStore struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool

	// ResolverServer, if set, is a "host:port" DNS server queried directly
	// via github.com/miekg/dns for Host's address, bypassing net.Dial's
	// implicit resolver. A long-running folder task that reconnects under
	// load should not wedge behind a slow or unreachable recursive
	// resolver picked by the OS; an operator-pinned resolver bounds that
	// risk the same way dnsclient/client.go avoids net.Dial's resolution.
	ResolverServer string

	logger lalog.Logger

	connMutex sync.Mutex
	conn      net.Conn
	tlsConn   *tls.Conn
	idleCap   bool // whether the server advertised IDLE in its CAPABILITY response
}

// NewIMAPStore constructs a store bound to one IMAP account. Dial is
// deferred to Connect.
func NewIMAPStore(host string, port int, username, password string) *IMAPStore {
	return &IMAPStore{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		logger:   lalog.Logger{ComponentName: "endpoint.imap", ComponentID: []lalog.LoggerIDField{{Key: "Host", Value: host}}},
	}
}

func randomChallenge() string {
	return strconv.Itoa(1000000000 + rand.Intn(1000000000))
}

// converse sends one tagged IMAP command and waits for the matching
// tagged response line, returning the untagged lines collected in
// between. It assumes the connection is already established and does not
// itself take connMutex.
func (s *IMAPStore) converse(command string) (status, body string, err error) {
	var untagged bytes.Buffer
	s.tlsConn.SetDeadline(time.Now().Add(ioTimeout))
	reader := bufio.NewReader(s.tlsConn)
	challenge := randomChallenge()
	if _, err = fmt.Fprintf(s.tlsConn, "%s %s\r\n", challenge, command); err != nil {
		s.closeLocked()
		return "", "", err
	}
	for {
		line, _, rerr := reader.ReadLine()
		if rerr != nil {
			s.closeLocked()
			return "", "", rerr
		}
		lower := strings.TrimSpace(strings.ToLower(string(line)))
		if strings.HasPrefix(lower, challenge) {
			rest := strings.TrimSpace(lower[len(challenge):])
			word := rest
			if i := strings.IndexByte(rest, ' '); i >= 0 {
				word = rest[:i]
			}
			if word != "ok" {
				err = fmt.Errorf("endpoint: IMAP command %q failed: %s", command, rest)
			}
			return rest, untagged.String(), err
		}
		untagged.Write(line)
		untagged.WriteByte('\n')
	}
}

func (s *IMAPStore) converseLocked(command string) (status, body string, err error) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn == nil {
		return "", "", fmt.Errorf("endpoint: IMAP connection to %s is not established", s.Host)
	}
	return s.converse(command)
}

func (s *IMAPStore) closeLocked() {
	if s.tlsConn != nil {
		s.tlsConn.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.tlsConn = nil
	s.conn = nil
}

// Connect dials, TLS-wraps, authenticates, and SELECTs mailbox.
func (s *IMAPStore) Connect(ctx context.Context, mailbox string) error {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	dialAddr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if s.ResolverServer != "" {
		ip, err := ResolveHost(s.Host, s.ResolverServer)
		if err != nil {
			return fmt.Errorf("endpoint: resolving %s via %s: %w", s.Host, s.ResolverServer, err)
		}
		dialAddr = fmt.Sprintf("%s:%d", ip, s.Port)
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return fmt.Errorf("endpoint: dial %s: %w", s.Host, err)
	}
	s.conn = conn
	s.tlsConn = tls.Client(conn, &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify})
	if err := s.tlsConn.Handshake(); err != nil {
		s.closeLocked()
		return fmt.Errorf("endpoint: TLS handshake with %s: %w", s.Host, err)
	}
	s.tlsConn.SetDeadline(time.Now().Add(ioTimeout))
	reader := bufio.NewReader(s.tlsConn)
	if _, _, err := reader.ReadLine(); err != nil {
		s.closeLocked()
		return fmt.Errorf("endpoint: reading greeting from %s: %w", s.Host, err)
	}
	_, capBody, err := s.converse("CAPABILITY")
	if err != nil {
		s.closeLocked()
		return err
	}
	s.idleCap = strings.Contains(strings.ToUpper(capBody), "IDLE")
	if _, _, err := s.converse(fmt.Sprintf("LOGIN %s %s", s.Username, s.Password)); err != nil {
		s.closeLocked()
		return fmt.Errorf("endpoint: LOGIN failed: %w", err)
	}
	if _, _, err := s.converse(fmt.Sprintf("SELECT %q", mailbox)); err != nil {
		s.closeLocked()
		return fmt.Errorf("endpoint: SELECT %q failed: %w", mailbox, err)
	}
	s.logger.Info(mailbox, nil, "connected, idle capability: %v", s.idleCap)
	return nil
}

// Disconnect issues LOGOUT and tears down the connection. Errors from
// LOGOUT itself are intentionally ignored, mirroring
// toolbox/imaps.go's LogoutDisconnect.
func (s *IMAPStore) Disconnect(ctx context.Context) error {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn == nil {
		return nil
	}
	s.converse("LOGOUT")
	s.closeLocked()
	return nil
}

// WaitForActivity blocks until new mail might have arrived: IDLE if the
// server advertised it, otherwise a bounded sleep so the caller can poll
// with NOOP/SEARCH UNSEEN instead.
func (s *IMAPStore) WaitForActivity(ctx context.Context, pollInterval time.Duration) error {
	if !s.idleCap {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
			return nil
		}
	}
	s.connMutex.Lock()
	if s.conn == nil {
		s.connMutex.Unlock()
		return fmt.Errorf("endpoint: IMAP connection to %s is not established", s.Host)
	}
	s.tlsConn.SetDeadline(time.Now().Add(pollInterval))
	challenge := randomChallenge()
	if _, err := fmt.Fprintf(s.tlsConn, "%s IDLE\r\n", challenge); err != nil {
		s.closeLocked()
		s.connMutex.Unlock()
		return err
	}
	reader := bufio.NewReader(s.tlsConn)
	_, _, err := reader.ReadLine() // "+ idling" continuation
	s.connMutex.Unlock()
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		reader.ReadLine() // untagged update, or timeout severing the read
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Force the in-flight ReadLine above to return before touching
		// tlsConn again below: without waiting for done here, the DONE
		// completion read could race the still-pending IDLE-update read
		// on the same connection.
		s.connMutex.Lock()
		if s.conn != nil {
			s.tlsConn.SetDeadline(time.Now())
		}
		s.connMutex.Unlock()
		<-done
	}
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn != nil {
		fmt.Fprint(s.tlsConn, "DONE\r\n")
		bufio.NewReader(s.tlsConn).ReadLine() // tagged IDLE completion
	}
	return ctx.Err()
}

// ExistsCount reports the number of messages in the currently selected
// mailbox via EXAMINE, the read-only variant of SELECT.
func (s *IMAPStore) ExistsCount(mailbox string) (int, error) {
	_, body, err := s.converseLocked(fmt.Sprintf("EXAMINE %q", mailbox))
	if err != nil {
		return 0, err
	}
	m := existsPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("endpoint: EXAMINE %q did not report EXISTS", mailbox)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetLabel implements script.SourceEndpoint by issuing UID STORE +FLAGS.
func (s *IMAPStore) SetLabel(ctx context.Context, uid uint32, label script.Label) error {
	_, _, err := s.converseLocked(fmt.Sprintf("UID STORE %d +FLAGS (%s)", uid, label))
	return err
}

// Mailbox returns a script.Endpoint bound to the named mailbox on this
// store's connection. Each compiled destination name resolves to one such
// endpoint; every one of them shares the store's single connection, since
// APPEND and SELECT both operate against whichever connection the
// operator's config points the store at.
func (s *IMAPStore) Mailbox(name string) script.Endpoint {
	return &imapDestination{store: s, mailbox: name}
}

type imapDestination struct {
	store   *IMAPStore
	mailbox string
}

// OpenWriter implements script.Endpoint. The returned writer's Disconnect
// is a no-op: the connection it appends over belongs to the IMAPStore,
// not to any one destination, so closing it here would sever every other
// destination and the source mailbox at once.
func (d *imapDestination) OpenWriter(ctx context.Context) (script.Writer, error) {
	return &imapWriter{store: d.store, mailbox: d.mailbox}, nil
}

type imapWriter struct {
	store   *IMAPStore
	mailbox string
}

// Append implements script.Writer using IMAP's literal-string APPEND
// syntax: send the command with a byte-count placeholder, wait for the
// server's "+" continuation, then write the literal itself. The raw
// message body is out of scope for script.Message; callers supply it
// through RawBody, a narrow interface the concrete Message implementation
// satisfies.
func (w *imapWriter) Append(ctx context.Context, msg script.Message) error {
	body, ok := msg.(interface{ RawBody() []byte })
	if !ok {
		return fmt.Errorf("endpoint: message does not expose a raw body to append")
	}
	literal := body.RawBody()

	w.store.connMutex.Lock()
	defer w.store.connMutex.Unlock()
	if w.store.conn == nil {
		return fmt.Errorf("endpoint: IMAP connection to %s is not established", w.store.Host)
	}
	w.store.tlsConn.SetDeadline(time.Now().Add(ioTimeout))
	reader := bufio.NewReader(w.store.tlsConn)
	challenge := randomChallenge()
	if _, err := fmt.Fprintf(w.store.tlsConn, "%s APPEND %q {%d}\r\n", challenge, w.mailbox, len(literal)); err != nil {
		w.store.closeLocked()
		return err
	}
	line, _, err := reader.ReadLine()
	if err != nil {
		w.store.closeLocked()
		return err
	}
	if len(line) == 0 || line[0] != '+' {
		return fmt.Errorf("endpoint: server refused APPEND continuation: %s", line)
	}
	if _, err := w.store.tlsConn.Write(literal); err != nil {
		w.store.closeLocked()
		return err
	}
	if _, err := fmt.Fprint(w.store.tlsConn, "\r\n"); err != nil {
		w.store.closeLocked()
		return err
	}
	for {
		line, _, err := reader.ReadLine()
		if err != nil {
			w.store.closeLocked()
			return err
		}
		lower := strings.TrimSpace(strings.ToLower(string(line)))
		if strings.HasPrefix(lower, challenge) {
			rest := strings.TrimSpace(lower[len(challenge):])
			if !strings.HasPrefix(rest, "ok") {
				return fmt.Errorf("endpoint: APPEND to %q failed: %s", w.mailbox, rest)
			}
			return nil
		}
	}
}

func (w *imapWriter) Disconnect(ctx context.Context) error { return nil }

// readIMAPLine reads one logical IMAP response line, transparently
// inlining any literal strings it contains. A literal is announced by a
// trailing "{n}" (optionally "{n+}" for non-synchronizing literals) and
// is followed immediately by exactly n raw bytes, which may themselves
// contain CRLF sequences that are not line boundaries; bufio.Reader's
// own ReadLine cannot see that distinction, so the literal's announcing
// line and its continuation are stitched back together here. Each
// literal's raw bytes are returned separately in order, since the
// caller (not this function) knows what each one means.
func readIMAPLine(r *bufio.Reader) (text []byte, literals [][]byte, err error) {
	var buf bytes.Buffer
	for {
		line, _, rerr := r.ReadLine()
		if rerr != nil {
			return nil, nil, rerr
		}
		if m := trailingLiteral.FindSubmatch(line); m != nil {
			n, convErr := strconv.Atoi(string(m[1]))
			if convErr != nil {
				return nil, nil, convErr
			}
			buf.Write(line[:len(line)-len(m[0])])
			literal := make([]byte, n)
			if _, err := io.ReadFull(r, literal); err != nil {
				return nil, nil, err
			}
			literals = append(literals, literal)
			continue
		}
		buf.Write(line)
		return buf.Bytes(), literals, nil
	}
}

// converseLiteral is converse's literal-aware sibling, used for FETCH
// responses that may carry BODY[...] literals alongside plain text. It
// assumes the connection is already established and connMutex is held.
func (s *IMAPStore) converseLiteral(command string) (status string, text []byte, literals [][]byte, err error) {
	s.tlsConn.SetDeadline(time.Now().Add(ioTimeout))
	reader := bufio.NewReader(s.tlsConn)
	challenge := randomChallenge()
	if _, err = fmt.Fprintf(s.tlsConn, "%s %s\r\n", challenge, command); err != nil {
		s.closeLocked()
		return "", nil, nil, err
	}
	var textBuf bytes.Buffer
	for {
		line, lits, rerr := readIMAPLine(reader)
		if rerr != nil {
			s.closeLocked()
			return "", nil, nil, rerr
		}
		literals = append(literals, lits...)
		lower := strings.TrimSpace(strings.ToLower(string(line)))
		if strings.HasPrefix(lower, challenge) {
			rest := strings.TrimSpace(lower[len(challenge):])
			word := rest
			if i := strings.IndexByte(rest, ' '); i >= 0 {
				word = rest[:i]
			}
			if word != "ok" {
				err = fmt.Errorf("endpoint: IMAP command %q failed: %s", command, rest)
			}
			return rest, textBuf.Bytes(), literals, err
		}
		textBuf.Write(line)
		textBuf.WriteByte('\n')
	}
}

// FetchSince returns every message in mailbox whose UID exceeds
// highWaterUID, each with its flags, To/Cc recipients, and raw body.
// mailbox must already be the currently SELECTed mailbox.
func (s *IMAPStore) FetchSince(ctx context.Context, mailbox string, highWaterUID uint32) ([]FetchedUID, error) {
	s.connMutex.Lock()
	if s.conn == nil {
		s.connMutex.Unlock()
		return nil, fmt.Errorf("endpoint: IMAP connection to %s is not established", s.Host)
	}
	_, searchText, _, err := s.converseLiteral(fmt.Sprintf("UID SEARCH UID %d:*", highWaterUID+1))
	s.connMutex.Unlock()
	if err != nil {
		return nil, err
	}
	uids := parseSearchUIDs(searchText)

	fetched := make([]FetchedUID, 0, len(uids))
	for _, uid := range uids {
		fm, err := s.fetchOne(uid)
		if err != nil {
			return nil, err
		}
		fetched = append(fetched, fm)
	}
	return fetched, nil
}

// FetchedUID is one message as returned by FetchSince, still in its raw
// wire form; endpoint.NewMessage turns it into a script.Message.
type FetchedUID struct {
	UID        uint32
	Flags      []string
	Recipients []RawAddress
	Body       []byte
}

// fetchOne retrieves one message's flags, To/Cc headers, and full body in
// a single FETCH so only one round trip is spent per message.
func (s *IMAPStore) fetchOne(uid uint32) (FetchedUID, error) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn == nil {
		return FetchedUID{}, fmt.Errorf("endpoint: IMAP connection to %s is not established", s.Host)
	}
	command := fmt.Sprintf("UID FETCH %d (FLAGS BODY.PEEK[HEADER.FIELDS (TO CC)] BODY.PEEK[])", uid)
	_, text, literals, err := s.converseLiteral(command)
	if err != nil {
		return FetchedUID{}, err
	}
	if len(literals) != 2 {
		return FetchedUID{}, fmt.Errorf("endpoint: UID FETCH %d: expected 2 literals, got %d", uid, len(literals))
	}
	return FetchedUID{
		UID:        uid,
		Flags:      parseFlags(text),
		Recipients: recipientsFromHeaderBlob(literals[0]),
		Body:       literals[1],
	}, nil
}

func parseSearchUIDs(searchText []byte) []uint32 {
	m := searchPattern.FindSubmatch(searchText)
	if m == nil {
		return nil
	}
	fields := strings.Fields(string(m[1]))
	uids := make([]uint32, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			continue
		}
		uids = append(uids, uint32(n))
	}
	return uids
}

func parseFlags(text []byte) []string {
	m := flagsPattern.FindSubmatch(text)
	if m == nil {
		return nil
	}
	return strings.Fields(string(m[1]))
}

// recipientsFromHeaderBlob parses a raw "To:"/"Cc:" header fragment with
// net/mail, which already understands RFC 5322 folding, quoted display
// names, and group syntax far better than a hand-rolled scanner would.
func recipientsFromHeaderBlob(blob []byte) []RawAddress {
	msg, err := mail.ReadMessage(bytes.NewReader(append(blob, []byte("\r\n\r\n")...)))
	if err != nil {
		return nil
	}
	var out []RawAddress
	for _, field := range []string{"To", "Cc"} {
		addrs, err := msg.Header.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			at := strings.LastIndexByte(a.Address, '@')
			if at < 0 {
				continue
			}
			out = append(out, RawAddress{Mailbox: a.Address[:at], Host: a.Address[at+1:]})
		}
	}
	return out
}

// MailboxSource adapts one IMAPStore connection bound to a single
// mailbox into the interface a Folder task drives: Connect/Disconnect
// take no mailbox argument because this type already knows which one it
// owns, and FetchSince turns each FetchedUID into a ready script.Message.
type MailboxSource struct {
	Store   *IMAPStore
	Mailbox string
}

func (m *MailboxSource) Connect(ctx context.Context) error { return m.Store.Connect(ctx, m.Mailbox) }

func (m *MailboxSource) Disconnect(ctx context.Context) error { return m.Store.Disconnect(ctx) }

func (m *MailboxSource) WaitForActivity(ctx context.Context, pollInterval time.Duration) error {
	return m.Store.WaitForActivity(ctx, pollInterval)
}

// FetchSince fetches new messages and wraps each as a *Message, the
// concrete script.Message implementation the rest of recogedor expects,
// satisfying supervisor.MessageSource.
func (m *MailboxSource) FetchSince(ctx context.Context, highWaterUID uint32) ([]script.Message, error) {
	raw, err := m.Store.FetchSince(ctx, m.Mailbox, highWaterUID)
	if err != nil {
		return nil, err
	}
	out := make([]script.Message, 0, len(raw))
	for _, fu := range raw {
		out = append(out, NewMessage(fu.UID, fu.Flags, fu.Recipients, fu.Body))
	}
	return out, nil
}
