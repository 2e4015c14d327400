package csv

import (
	"bufio"
	"bytes"
	"io"
)

// Replacement rewrites every occurrence of From with To.
type Replacement struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// rewriter is an io.Reader that applies replacements as a rolling find and
// replace. It keeps the last maxLen-1 bytes of each block as carry so a match
// that spans two reads is still found.
type rewriter struct {
	br    *bufio.Reader
	reps  []Replacement
	keep  int
	carry []byte
	buf   bytes.Buffer
	chunk []byte
	eof   bool
}

func newRewriter(r io.Reader, reps []Replacement) *rewriter {
	keep := 0
	for _, rp := range reps {
		if n := len(rp.From) - 1; n > keep {
			keep = n
		}
	}
	return &rewriter{
		br:    bufio.NewReaderSize(r, 64*1024),
		reps:  reps,
		keep:  keep,
		chunk: make([]byte, 64*1024),
	}
}

func (rw *rewriter) Read(p []byte) (int, error) {
	for rw.buf.Len() == 0 {
		if rw.eof {
			return 0, io.EOF
		}
		if err := rw.fill(); err != nil {
			return 0, err
		}
	}
	return rw.buf.Read(p)
}

func (rw *rewriter) fill() error {
	n, rerr := rw.br.Read(rw.chunk)
	if n > 0 {
		block := make([]byte, 0, len(rw.carry)+n)
		block = append(block, rw.carry...)
		block = append(block, rw.chunk[:n]...)
		for _, rp := range rw.reps {
			if rp.From != "" && rp.From != rp.To {
				block = bytes.ReplaceAll(block, []byte(rp.From), []byte(rp.To))
			}
		}
		if len(block) > rw.keep {
			rw.buf.Write(block[:len(block)-rw.keep])
			rw.carry = append(rw.carry[:0], block[len(block)-rw.keep:]...)
		} else {
			rw.carry = append(rw.carry[:0], block...)
		}
	}
	switch {
	case rerr == io.EOF:
		rw.buf.Write(rw.carry)
		rw.carry = rw.carry[:0]
		rw.eof = true
	case rerr != nil:
		return rerr
	}
	return nil
}
