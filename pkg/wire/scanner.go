package wire

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	DefaultMaxHeaderBytes = 1 << 20

	maxLineBytes    = 4096
	maxQueuedBlocks = 32
)

// Field is a header field exactly as it appeared on the wire, minus
// surrounding whitespace.
type Field struct {
	Name  string
	Value string
}

// Block is the header section of one HTTP/1.x request.
type Block struct {
	Method string
	Target string
	Fields []Field
}

type state int

const (
	stateHeader state = iota
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailer
	stateDone
)

// Scanner follows an inbound HTTP/1.x byte stream and records the header
// section of every request in it. Bodies are skipped using their framing.
// Once the stream stops looking like HTTP/1.x (HTTP/2 preface, protocol
// upgrade, malformed framing) the scanner goes idle for good.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	maxHeaderBytes int
	state          state
	buf            []byte
	line           []byte
	remaining      int64
	blocks         []Block
}

func NewScanner(maxHeaderBytes int) *Scanner {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}

	return &Scanner{maxHeaderBytes: maxHeaderBytes}
}

// Write feeds bytes read from the connection. It never fails.
func (s *Scanner) Write(p []byte) (int, error) {
	n := len(p)

	for len(p) > 0 && s.state != stateDone {
		switch s.state {
		case stateHeader:
			p = s.scanHeader(p)
		case stateBody, stateChunkData:
			p = s.skipBody(p)
		default:
			p = s.scanLine(p)
		}
	}

	return n, nil
}

// Done reports whether the scanner stopped following the stream.
func (s *Scanner) Done() bool {
	return s.state == stateDone
}

// Next returns the oldest queued block if its request line matches method
// and target. Requests on a connection are served in order, so a mismatch
// means the queue no longer lines up with the requests being served; the
// scanner then drops its queue and stops recording.
func (s *Scanner) Next(method, target string) (Block, bool) {
	if len(s.blocks) == 0 {
		return Block{}, false
	}

	b := s.blocks[0]
	s.blocks[0] = Block{}
	s.blocks = s.blocks[1:]

	if b.Method != method || b.Target != target {
		s.stop()
		s.blocks = nil
		return Block{}, false
	}

	return b, true
}

func (s *Scanner) stop() {
	s.state = stateDone
	s.buf = nil
	s.line = nil
}

// push queues b. When the queue is full the scanner stops; the blocks already
// queued still belong to the next requests in order, later ones get none.
func (s *Scanner) push(b Block) {
	if len(s.blocks) >= maxQueuedBlocks {
		s.stop()
		return
	}

	s.blocks = append(s.blocks, b)
}

func (s *Scanner) scanHeader(p []byte) []byte {
	// Empty lines before a request line are ignored.
	if len(s.buf) == 0 {
		if p = bytes.TrimLeft(p, "\r\n"); len(p) == 0 {
			return nil
		}
	}

	from := len(s.buf) - 3

	if from < 0 {
		from = 0
	}

	s.buf = append(s.buf, p...)
	end, size := headerEnd(s.buf, from)

	if end < 0 {
		if len(s.buf) > s.maxHeaderBytes {
			s.stop()
		}

		return nil
	}

	tail := append([]byte(nil), s.buf[end+size:]...)
	block := string(s.buf[:end])
	s.buf = s.buf[:0]
	s.finishHeader(block)

	return tail
}

func headerEnd(buf []byte, from int) (int, int) {
	crlf := bytes.Index(buf[from:], []byte("\r\n\r\n"))
	lf := bytes.Index(buf[from:], []byte("\n\n"))

	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return from + crlf, 4
	default:
		return from + lf, 2
	}
}

func (s *Scanner) finishHeader(raw string) {
	lines := strings.Split(raw, "\n")

	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	reqLine := strings.SplitN(lines[0], " ", 3)

	if len(reqLine) != 3 || !strings.HasPrefix(reqLine[2], "HTTP/1.") {
		s.stop()
		return
	}

	b := Block{Method: reqLine[0], Target: reqLine[1]}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}

		// obs-fold
		if (line[0] == ' ' || line[0] == '\t') && len(b.Fields) > 0 {
			last := &b.Fields[len(b.Fields)-1]
			last.Value = strings.Trim(last.Value+" "+strings.Trim(line, " \t"), " \t")
			continue
		}

		i := strings.IndexByte(line, ':')

		if i <= 0 {
			s.stop()
			return
		}

		b.Fields = append(b.Fields, Field{
			Name:  line[:i],
			Value: strings.Trim(line[i+1:], " \t"),
		})
	}

	s.push(b)

	if s.state == stateDone {
		return
	}

	chunked, length, ok := framing(&b)

	switch {
	case !ok || b.Method == "CONNECT" || upgradesToH2C(&b):
		s.stop()
	case chunked:
		s.state = stateChunkSize
	case length > 0:
		s.state = stateBody
		s.remaining = length
	default:
		s.state = stateHeader
	}
}

func framing(b *Block) (chunked bool, length int64, ok bool) {
	var te, cl string

	for _, f := range b.Fields {
		switch {
		case strings.EqualFold(f.Name, "Transfer-Encoding"):
			te = f.Value
		case strings.EqualFold(f.Name, "Content-Length"):
			cl = f.Value
		}
	}

	if te != "" {
		codings := strings.Split(te, ",")
		last := strings.TrimSpace(codings[len(codings)-1])
		return strings.EqualFold(last, "chunked"), 0, strings.EqualFold(last, "chunked")
	}

	if cl == "" {
		return false, 0, true
	}

	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)

	if err != nil || n < 0 {
		return false, 0, false
	}

	return false, n, true
}

func upgradesToH2C(b *Block) bool {
	for _, f := range b.Fields {
		if strings.EqualFold(f.Name, "Upgrade") && strings.Contains(strings.ToLower(f.Value), "h2c") {
			return true
		}
	}

	return false
}

func (s *Scanner) skipBody(p []byte) []byte {
	n := int64(len(p))

	if n > s.remaining {
		n = s.remaining
	}

	s.remaining -= n

	if s.remaining == 0 {
		if s.state == stateChunkData {
			s.state = stateChunkDataEnd
		} else {
			s.state = stateHeader
		}
	}

	return p[n:]
}

func (s *Scanner) scanLine(p []byte) []byte {
	i := bytes.IndexByte(p, '\n')

	if i < 0 {
		s.line = append(s.line, p...)

		if len(s.line) > maxLineBytes {
			s.stop()
		}

		return nil
	}

	s.line = append(s.line, p[:i]...)
	line := strings.TrimSuffix(string(s.line), "\r")
	s.line = s.line[:0]
	s.handleLine(line)

	return p[i+1:]
}

func (s *Scanner) handleLine(line string) {
	switch s.state {
	case stateChunkSize:
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)

		switch {
		case err != nil || size < 0:
			s.stop()
		case size == 0:
			s.state = stateTrailer
		default:
			s.remaining = size
			s.state = stateChunkData
		}

	case stateChunkDataEnd:
		if line != "" {
			s.stop()
			return
		}

		s.state = stateChunkSize

	case stateTrailer:
		if line == "" {
			s.state = stateHeader
		}
	}
}
