// elCRAM: a high-performance library for reading and writing CRAM files.
// Copyright (c) 2019-2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elcram/blob/master/LICENSE.txt>.

package cram

import (
	"bytes"
	"fmt"
	"log"
	"strconv"

	"github.com/exascience/elcram/internal"
)

// The name tokenizer exploits the structure of read names emitted by
// sequencing machines: long runs of names share an instrument/run/lane
// prefix and differ only in trailing coordinates. Each name is split
// into tokens (letter runs, digit runs with or without leading zeros,
// single separator characters); tokens are then coded against the
// token at the same position in the previous name, so the common
// prefix of consecutive names collapses into match tokens.

// token kinds in the coded stream
const (
	nameTokEnd     = iota // end of the current name
	nameTokDup            // the whole name equals the previous name
	nameTokMatch          // same token as the previous name at this position
	nameTokAlpha          // ITF8 length, then raw bytes
	nameTokChar           // a single raw byte
	nameTokDigits         // ITF8 value, no leading zeros
	nameTokDigits0        // width byte, then ITF8 value padded to width
)

type nameToken struct {
	kind  byte
	value int32 // digits, digits0
	width byte  // digits0
	text  string
}

func (t nameToken) equal(o nameToken) bool {
	return t.kind == o.kind && t.value == o.value && t.width == o.width && t.text == o.text
}

// tokenizeName splits a read name into alpha, digit, and single-char
// tokens. Digit runs keep their leading zeros through the digits0
// kind; runs too long for an int32 fall back to alpha.
func tokenizeName(name []byte) []nameToken {
	var tokens []nameToken
	for i := 0; i < len(name); {
		c := name[i]
		switch {
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(name) && name[j] >= '0' && name[j] <= '9' {
				j++
			}
			if j-i > 9 {
				tokens = append(tokens, nameToken{kind: nameTokAlpha, text: string(name[i:j])})
			} else {
				value := int32(internal.ParseInt(string(name[i:j]), 10, 32))
				if c == '0' && j-i > 1 {
					tokens = append(tokens, nameToken{kind: nameTokDigits0, value: value, width: byte(j - i)})
				} else {
					tokens = append(tokens, nameToken{kind: nameTokDigits, value: value})
				}
			}
			i = j
		case isNameAlpha(c):
			j := i + 1
			for j < len(name) && isNameAlpha(name[j]) {
				j++
			}
			tokens = append(tokens, nameToken{kind: nameTokAlpha, text: string(name[i:j])})
			i = j
		default:
			tokens = append(tokens, nameToken{kind: nameTokChar, text: string(name[i : i+1])})
			i++
		}
	}
	return tokens
}

func isNameAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// nameTokCompress codes a block of \0-terminated read names as a
// token stream. The header is the name count (ITF8) and a flag byte
// recording whether the final name carries its terminator, so that
// decompression reproduces the payload byte for byte.
func nameTokCompress(in []byte) []byte {
	names := bytes.Split(in, []byte{0})
	terminated := byte(1)
	if n := len(names); n > 0 && len(names[n-1]) == 0 && len(in) > 0 {
		names = names[:n-1]
	} else if len(in) > 0 {
		terminated = 0
	}
	if len(in) == 0 {
		names = nil
	}

	out := appendITF8(nil, int32(len(names)))
	out = append(out, terminated)
	var prevName []byte
	var prevTokens []nameToken
	for _, name := range names {
		if prevName != nil && bytes.Equal(name, prevName) {
			out = append(out, nameTokDup)
			continue
		}
		tokens := tokenizeName(name)
		for i, t := range tokens {
			if i < len(prevTokens) && t.equal(prevTokens[i]) {
				out = append(out, nameTokMatch)
				continue
			}
			out = append(out, t.kind)
			switch t.kind {
			case nameTokAlpha:
				out = appendITF8(out, int32(len(t.text)))
				out = append(out, t.text...)
			case nameTokChar:
				out = append(out, t.text[0])
			case nameTokDigits:
				out = appendITF8(out, t.value)
			case nameTokDigits0:
				out = append(out, t.width)
				out = appendITF8(out, t.value)
			}
		}
		out = append(out, nameTokEnd)
		prevName = name
		prevTokens = tokens
	}
	return out
}

// nameTokUncompress replays a token stream into the original block of
// \0-terminated read names.
func nameTokUncompress(in []byte) []byte {
	r := newByteReader(in)
	count := int(r.readITF8())
	terminated := r.readByte()

	var out []byte
	var prevName []byte
	var prevTokens []nameToken
	havePrev := false
	for n := 0; n < count; n++ {
		if r.peekByte() == nameTokDup {
			r.readByte()
			if !havePrev {
				panic(&MalformedHeaderError{Container: -1, Slice: -1, Reason: "name duplicate token without a previous name"})
			}
			out = append(out, prevName...)
			out = append(out, 0)
			continue
		}
		var name []byte
		var tokens []nameToken
		for i := 0; ; i++ {
			kind := r.readByte()
			if kind == nameTokEnd {
				break
			}
			var t nameToken
			switch kind {
			case nameTokMatch:
				if i >= len(prevTokens) {
					panic(&MalformedHeaderError{Container: -1, Slice: -1, Reason: "name match token without a previous token"})
				}
				t = prevTokens[i]
			case nameTokAlpha:
				t = nameToken{kind: kind, text: string(r.readBytes(int(r.readITF8())))}
			case nameTokChar:
				t = nameToken{kind: kind, text: string(r.readBytes(1))}
			case nameTokDigits:
				t = nameToken{kind: kind, value: r.readITF8()}
			case nameTokDigits0:
				t = nameToken{kind: kind, width: r.readByte()}
				t.value = r.readITF8()
			default:
				panic(&MalformedHeaderError{Container: -1, Slice: -1, Reason: fmt.Sprintf("invalid name token kind %v", kind)})
			}
			tokens = append(tokens, t)
			name = appendNameToken(name, t)
		}
		out = append(out, name...)
		out = append(out, 0)
		prevName = name
		prevTokens = tokens
		havePrev = true
	}
	if terminated == 0 && len(out) > 0 {
		out = out[:len(out)-1]
	}
	if out == nil {
		out = []byte{}
	}
	return out
}

func appendNameToken(name []byte, t nameToken) []byte {
	switch t.kind {
	case nameTokAlpha, nameTokChar:
		return append(name, t.text...)
	case nameTokDigits:
		return strconv.AppendInt(name, int64(t.value), 10)
	case nameTokDigits0:
		return append(name, fmt.Sprintf("%0*d", t.width, t.value)...)
	default:
		log.Panicf("invalid name token kind %v", t.kind)
		return nil
	}
}
