// Record format is based on ToyTLV (MIT licence) written by Victor Grishchenko in 2024
// Original project: https://github.com/learn-decentralized-systems/toytlv

// Package protocol implements the compact TLV record encoding the sync
// transport frames its envelopes with.
//
// Three header forms, picked by body size: tiny (1 byte, bodies 0-9,
// type lost), short (lowercase type + 1-byte length, bodies up to 255),
// long (uppercase type + 4-byte little-endian length). Record types are
// uppercase letters; passing a lowercase type enables the tiny form.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const CaseBit uint8 = 'a' - 'A'

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
)

type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// ProbeHeader reads a record header: the type (lit), header length and
// body length. lit is 0 for incomplete data, '-' for garbage.
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	dlit := data[0]
	if dlit >= '0' && dlit <= '9' { // tiny
		lit = '0'
		bodylen = int(dlit - '0')
		hdrlen = 1
	} else if dlit >= 'a' && dlit <= 'z' { // short
		if len(data) < 2 {
			return
		}
		lit = dlit - CaseBit
		hdrlen = 2
		bodylen = int(data[1])
	} else if dlit >= 'A' && dlit <= 'Z' { // long
		if len(data) < 5 {
			return
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			lit = '-'
			return
		}
		lit = dlit
		bodylen = int(bl)
		hdrlen = 5
	} else {
		lit = '-'
	}
	return
}

// AppendHeader appends a record header for a body of the given length.
func AppendHeader(into []byte, lit byte, bodylen int) (ret []byte) {
	if lit >= 'a' && lit <= 'z' {
		if bodylen <= 9 {
			return append(into, byte('0'+bodylen))
		}
		lit -= CaseBit
	}
	if bodylen <= 0xff {
		return append(into, lit+CaseBit, byte(bodylen))
	}
	ret = append(into, lit)
	return binary.LittleEndian.AppendUint32(ret, uint32(bodylen))
}

// Record encodes one record out of the given body pieces.
func Record(lit byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	ret := AppendHeader(make([]byte, 0, total+5), lit, total)
	for _, b := range body {
		ret = append(ret, b...)
	}
	return ret
}

// Take unwraps a record of the given type; returns nil body otherwise.
func Take(lit byte, data []byte) (body, rest []byte) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit != lit && flit != '0' || hdrlen+bodylen > len(data) {
		return nil, data
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// TakeAny unwraps the next record whatever its type is.
func TakeAny(data []byte) (lit byte, body, rest []byte) {
	lit, hdrlen, bodylen := ProbeHeader(data)
	if lit == 0 || lit == '-' || hdrlen+bodylen > len(data) {
		return 0, nil, data
	}
	body = data[hdrlen : hdrlen+bodylen]
	rest = data[hdrlen+bodylen:]
	return
}

// Concat glues record pieces into a single buffer.
func Concat(msg ...[]byte) []byte {
	total := 0
	for _, m := range msg {
		total += len(m)
	}
	ret := make([]byte, 0, total)
	for _, m := range msg {
		ret = append(ret, m...)
	}
	return ret
}

// Split consumes whole records from the buffer, leaving any trailing
// partial record in place.
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() > 0 {
		lit, hdrlen, bodylen := ProbeHeader(data.Bytes())
		if lit == '-' {
			return recs, ErrBadRecord
		}
		if lit == 0 || hdrlen+bodylen > data.Len() {
			if len(recs) == 0 {
				err = ErrIncomplete
			}
			return
		}
		recs = append(recs, data.Next(hdrlen+bodylen))
	}
	return
}
