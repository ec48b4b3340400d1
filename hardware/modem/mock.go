package modem

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/tracker/helpers"
)

// MockPayload matches raw bytes written after DOWNLOAD prompt.
const MockPayload = "<payload>"

type mockRule struct {
	prefix string
	reply  string
	delay  time.Duration
}

type mockChunk struct {
	at   time.Time
	text string
}

// Mock simulates modem for tests. Replies are chosen by command prefix,
// last added rule wins. Time only moves on FakeClock.
type Mock struct {
	mu       sync.Mutex
	clock    *helpers.FakeClock
	rules    []mockRule
	pending  []mockChunk
	sent     []string
	payloads [][]byte
	ioErr    error
	echo     bool
	closed   bool
}

func NewMock(clock *helpers.FakeClock) *Mock {
	return &Mock{clock: clock}
}

// NewMockSIM800 replies like healthy modem with registered bearer and 200 from collector.
func NewMockSIM800(clock *helpers.FakeClock) *Mock {
	self := NewMock(clock)
	self.On("AT", "OK")
	self.On("AT+SAPBR=3,1,", "OK")
	self.On(CmdBearerOpen, "OK")
	self.On(CmdBearerQuery, "+SAPBR: 1,1,\"10.64.1.7\"\r\n\r\nOK")
	self.On(CmdHttpTerm, "OK")
	self.On(CmdHttpInit, "OK")
	self.On("AT+HTTPPARA=", "OK")
	self.On("AT+HTTPDATA=", "DOWNLOAD")
	self.On(MockPayload, "OK")
	self.OnAction(200, 15, 1500*time.Millisecond)
	self.On(CmdHttpRead, "+HTTPREAD: 15\r\n{\"status\":\"ok\"}\r\nOK")
	return self
}

// On sets reply for commands starting with prefix. Empty reply means silence.
func (self *Mock) On(prefix, reply string) { self.OnDelay(prefix, reply, 100*time.Millisecond) }

func (self *Mock) OnDelay(prefix, reply string, delay time.Duration) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.rules = append(self.rules, mockRule{prefix: prefix, reply: reply, delay: delay})
}

// OnAction replies OK at once and action result URC after delay.
func (self *Mock) OnAction(status, length int, delay time.Duration) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.rules = append(self.rules, mockRule{
		prefix: CmdHttpActionPost,
		reply:  fmt.Sprintf("OK\r\n\x00%s 1,%d,%d", PrefixHttpAction, status, length),
		delay:  delay,
	})
}

// SetEcho makes mock repeat every command before reply, like modem after power on.
func (self *Mock) SetEcho(on bool) {
	self.mu.Lock()
	self.echo = on
	self.mu.Unlock()
}

// FailIO makes every following device call return err.
func (self *Mock) FailIO(err error) {
	self.mu.Lock()
	self.ioErr = err
	self.mu.Unlock()
}

// Sent returns copy of command lines received so far.
func (self *Mock) Sent() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.sent...)
}

func (self *Mock) Payloads() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([][]byte(nil), self.payloads...)
}

// Count returns number of sent commands with prefix.
func (self *Mock) Count(prefix string) int {
	n := 0
	for _, s := range self.Sent() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// Last returns most recent command.
func (self *Mock) Last() string {
	sent := self.Sent()
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1]
}

func (self *Mock) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

func (self *Mock) SendLine(line string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ioErr != nil {
		return self.ioErr
	}
	self.sent = append(self.sent, line)
	// like Uart.Discard
	self.pending = nil
	now := self.clock.Now()
	if self.echo {
		self.pending = append(self.pending, mockChunk{at: now, text: line + CRLF})
	}
	self.respond(line, now)
	return nil
}

func (self *Mock) Write(b []byte) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ioErr != nil {
		return self.ioErr
	}
	self.payloads = append(self.payloads, append([]byte(nil), b...))
	self.respond(MockPayload, self.clock.Now())
	return nil
}

// respond schedules reply of best rule. Reply parts after \x00 are delayed by rule delay,
// leading part is sent after short fixed delay.
func (self *Mock) respond(line string, now time.Time) {
	var rule *mockRule
	best := -1
	for i := len(self.rules) - 1; i >= 0; i-- {
		r := &self.rules[i]
		if strings.HasPrefix(line, r.prefix) && len(r.prefix) > best {
			rule, best = r, len(r.prefix)
		}
	}
	if rule == nil || rule.reply == "" {
		return
	}
	parts := strings.SplitN(rule.reply, "\x00", 2)
	if len(parts) == 2 {
		self.pending = append(self.pending,
			mockChunk{at: now.Add(20 * time.Millisecond), text: CRLF + parts[0] + CRLF},
			mockChunk{at: now.Add(rule.delay), text: CRLF + parts[1] + CRLF},
		)
	} else {
		self.pending = append(self.pending, mockChunk{at: now.Add(rule.delay), text: CRLF + rule.reply + CRLF})
	}
	sort.SliceStable(self.pending, func(i, j int) bool { return self.pending[i].at.Before(self.pending[j].at) })
}

func (self *Mock) ReadAvailable(window time.Duration) (string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ioErr != nil {
		return "", self.ioErr
	}
	if self.closed {
		return "", errors.New("mock closed")
	}
	now := self.clock.Now()
	deadline := now.Add(window)
	if len(self.pending) == 0 || self.pending[0].at.After(deadline) {
		self.clock.Advance(window)
		return "", nil
	}
	if first := self.pending[0].at; first.After(now) {
		self.clock.Advance(first.Sub(now))
		now = first
	}
	var b strings.Builder
	keep := self.pending[:0]
	for _, c := range self.pending {
		if !c.at.After(now) {
			b.WriteString(c.text)
		} else {
			keep = append(keep, c)
		}
	}
	self.pending = keep
	return b.String(), nil
}
