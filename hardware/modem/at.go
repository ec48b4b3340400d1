package modem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Commands and tokens of SIM800 family text protocol.
// Every command is one line, responses are unframed bursts of CRLF lines.
const (
	CRLF = "\r\n"

	TokenOK       = "OK"
	TokenError    = "ERROR"
	TokenCmeError = "+CME ERROR:"
	TokenDownload = "DOWNLOAD"
	TokenPrompt   = ">"

	PrefixBearer     = "+SAPBR:"
	PrefixHttpAction = "+HTTPACTION:"
	PrefixHttpRead   = "+HTTPREAD:"

	CmdProbe          = "AT"
	CmdEchoOff        = "ATE0"
	CmdBearerOpen     = "AT+SAPBR=1,1"
	CmdBearerQuery    = "AT+SAPBR=2,1"
	CmdBearerClose    = "AT+SAPBR=0,1"
	CmdHttpTerm       = "AT+HTTPTERM"
	CmdHttpInit       = "AT+HTTPINIT"
	CmdHttpActionPost = "AT+HTTPACTION=1"
	CmdHttpRead       = "AT+HTTPREAD"
	CmdSignal         = "AT+CSQ"
)

func CmdBearerParam(key, value string) string {
	return fmt.Sprintf("AT+SAPBR=3,1,%q,%q", key, value)
}

func CmdHttpParam(key string, value interface{}) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("AT+HTTPPARA=%q,%q", key, v)
	default:
		return fmt.Sprintf("AT+HTTPPARA=%q,%v", key, v)
	}
}

// CmdHttpData announces payload length, modem waits inputMs for bytes.
func CmdHttpData(length, inputMs int) string {
	return fmt.Sprintf("AT+HTTPDATA=%d,%d", length, inputMs)
}

type LineKind uint8

const (
	LineUnknown LineKind = iota
	LineEcho             // copy of command just sent, echo mode on
	LineOK
	LineError
	LinePrompt // modem ready to receive data
	LineData   // +XXX: intermediate data or unsolicited result
)

func (k LineKind) String() string {
	switch k {
	case LineEcho:
		return "echo"
	case LineOK:
		return "ok"
	case LineError:
		return "error"
	case LinePrompt:
		return "prompt"
	case LineData:
		return "data"
	}
	return "unknown"
}

type Line struct {
	Kind LineKind
	Text string
	// Partial is last line of burst without CR/LF yet.
	Partial bool
}

// Classify one trimmed response line. echo is command just sent, may be empty.
func Classify(text, echo string) LineKind {
	switch {
	case echo != "" && text == echo:
		return LineEcho
	case text == TokenOK:
		return LineOK
	case text == TokenError, strings.HasPrefix(text, TokenCmeError):
		return LineError
	case text == TokenDownload, text == TokenPrompt:
		return LinePrompt
	case strings.HasPrefix(text, "+"):
		return LineData
	}
	return LineUnknown
}

// Tokenize splits raw burst on CR/LF, drops empty lines.
// Unterminated last line is kept as Partial, modem may still be sending it.
func Tokenize(raw, echo string) []Line {
	fields := strings.FieldsFunc(raw, isLineEnd)
	open := raw != "" && !isLineEnd(rune(raw[len(raw)-1]))
	lines := make([]Line, 0, len(fields))
	for i, f := range fields {
		text := strings.TrimSpace(f)
		if text == "" {
			continue
		}
		partial := open && i == len(fields)-1
		lines = append(lines, Line{Kind: Classify(text, echo), Text: text, Partial: partial})
	}
	return lines
}

func isLineEnd(r rune) bool { return r == '\r' || r == '\n' }

type ResultKind uint8

const (
	ResultOk ResultKind = iota
	ResultError
	ResultTimeout
	ResultMalformed
)

func (k ResultKind) String() string {
	switch k {
	case ResultOk:
		return "ok"
	case ResultError:
		return "error"
	case ResultTimeout:
		return "timeout"
	case ResultMalformed:
		return "malformed"
	}
	return "invalid"
}

// Result is tagged outcome of one command exchange.
// Ok carries Code: 0 for plain commands, HTTP status for action.
type Result struct {
	Kind  ResultKind
	Code  int
	Lines []Line
	Raw   string
}

func (r Result) Ok() bool { return r.Kind == ResultOk }

func (r Result) String() string {
	switch r.Kind {
	case ResultOk:
		return fmt.Sprintf("ok(%d)", r.Code)
	case ResultMalformed, ResultError:
		return fmt.Sprintf("%s(%q)", r.Kind, r.Raw)
	}
	return r.Kind.String()
}

// Find returns first complete data line with prefix.
func (r Result) Find(prefix string) (Line, bool) {
	for _, l := range r.Lines {
		if l.Kind == LineData && !l.Partial && strings.HasPrefix(l.Text, prefix) {
			return l, true
		}
	}
	return Line{}, false
}

// expectation decides when response burst is complete.
type expectation struct {
	prompt bool   // DOWNLOAD completes
	prefix string // data line with prefix completes, OK does not
	body   bool   // "+HTTPREAD: <len>", len bytes, then final result
}

var (
	expectFinal  = expectation{}
	expectPrompt = expectation{prompt: true}
	expectBody   = expectation{body: true}
)

func expectData(prefix string) expectation { return expectation{prefix: prefix} }

// done reports whether raw burst satisfies expectation, with result kind.
func (e expectation) done(raw, echo string) (ResultKind, bool) {
	if !e.body {
		return e.complete(Tokenize(raw, echo))
	}
	if _, rest, ok := splitReadBody(raw); ok {
		return expectFinal.complete(Tokenize(rest, echo))
	}
	if strings.Contains(raw, PrefixHttpRead) {
		// body still arriving, its lines may look like final result
		return ResultMalformed, false
	}
	return expectFinal.complete(Tokenize(raw, echo))
}

// complete reports whether lines satisfy expectation, with result kind.
// Partial line is not trusted, except prompt which modem may leave unterminated.
func (e expectation) complete(lines []Line) (ResultKind, bool) {
	for _, l := range lines {
		if l.Partial && l.Kind != LinePrompt {
			continue
		}
		switch l.Kind {
		case LineError:
			return ResultError, true
		case LineOK:
			if !e.prompt && e.prefix == "" {
				return ResultOk, true
			}
		case LinePrompt:
			if e.prompt {
				return ResultOk, true
			}
		case LineData:
			if e.prefix != "" && strings.HasPrefix(l.Text, e.prefix) {
				return ResultOk, true
			}
		}
	}
	return ResultMalformed, false
}

// classify builds Result from everything received within window.
func (e expectation) classify(raw, echo string) Result {
	lines := Tokenize(raw, echo)
	r := Result{Lines: lines, Raw: raw}
	kind, ok := e.done(raw, echo)
	switch {
	case ok:
		r.Kind = kind
	case len(significant(lines)) == 0:
		r.Kind = ResultTimeout
	default:
		r.Kind = ResultMalformed
	}
	return r
}

func significant(lines []Line) []Line {
	out := lines[:0:0]
	for _, l := range lines {
		if l.Kind != LineEcho {
			out = append(out, l)
		}
	}
	return out
}

// ActionStatus is parsed "+HTTPACTION: <method>,<status>,<length>".
type ActionStatus struct {
	Method int
	Status int
	Length int
}

// Success is 2xx class.
func (a ActionStatus) Success() bool { return a.Status >= 200 && a.Status < 300 }

func ParseAction(text string) (ActionStatus, error) {
	ints, err := parseInts(text, PrefixHttpAction, 3)
	if err != nil {
		return ActionStatus{}, err
	}
	return ActionStatus{Method: ints[0], Status: ints[1], Length: ints[2]}, nil
}

// BearerStatus is parsed "+SAPBR: <cid>,<status>,"<ip>"".
// Status 0=connecting 1=connected 2=closing 3=closed.
type BearerStatus struct {
	Cid    int
	Status int
	Addr   string
}

const BearerConnected = 1

func ParseBearer(text string) (BearerStatus, error) {
	if !strings.HasPrefix(text, PrefixBearer) {
		return BearerStatus{}, errors.NotValidf("bearer line=%q", text)
	}
	parts := strings.SplitN(strings.TrimSpace(text[len(PrefixBearer):]), ",", 3)
	if len(parts) < 2 {
		return BearerStatus{}, errors.NotValidf("bearer line=%q", text)
	}
	var bs BearerStatus
	var err error
	if bs.Cid, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return BearerStatus{}, errors.NewNotValid(err, "bearer cid")
	}
	if bs.Status, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return BearerStatus{}, errors.NewNotValid(err, "bearer status")
	}
	if len(parts) == 3 {
		bs.Addr = strings.Trim(strings.TrimSpace(parts[2]), `"`)
	}
	return bs, nil
}

func parseInts(text, prefix string, n int) ([]int, error) {
	if !strings.HasPrefix(text, prefix) {
		return nil, errors.NotValidf("line=%q expected prefix=%s", text, prefix)
	}
	parts := strings.Split(strings.TrimSpace(text[len(prefix):]), ",")
	if len(parts) != n {
		return nil, errors.NotValidf("line=%q fields=%d expected=%d", text, len(parts), n)
	}
	out := make([]int, n)
	for i, p := range parts {
		x, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.NewNotValid(err, fmt.Sprintf("line=%q field=%d", text, i))
		}
		out[i] = x
	}
	return out, nil
}

// ParseReadBody extracts body of announced length following "+HTTPREAD: <len>" header.
// Body bytes are kept as received, CR/LF and blank lines included.
func ParseReadBody(raw string) ([]byte, bool) {
	body, _, ok := splitReadBody(raw)
	return body, ok
}

// splitReadBody returns body and the rest of raw after it.
func splitReadBody(raw string) ([]byte, string, bool) {
	start := strings.Index(raw, PrefixHttpRead)
	if start < 0 {
		return nil, "", false
	}
	header := raw[start:]
	eol := strings.IndexAny(header, CRLF)
	if eol < 0 {
		return nil, "", false
	}
	ints, err := parseInts(header[:eol], PrefixHttpRead, 1)
	if err != nil || ints[0] < 0 {
		return nil, "", false
	}
	rest := header[eol:]
	rest = strings.TrimPrefix(rest, "\r")
	rest = strings.TrimPrefix(rest, "\n")
	if len(rest) < ints[0] {
		return nil, "", false
	}
	return []byte(rest[:ints[0]]), rest[ints[0]:], true
}
