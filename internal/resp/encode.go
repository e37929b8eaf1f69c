package resp

import (
	"strconv"
	"strings"
)

// The Append functions serialize replies onto dst. Every text payload has
// its CR and LF bytes removed first, so a declared length always matches
// the bytes that follow it.

func AppendSimpleString(dst []byte, s string) []byte {
	dst = append(dst, RESPString)
	dst = append(dst, stripCRLF(s)...)
	return append(dst, '\r', '\n')
}

func AppendError(dst []byte, msg string) []byte {
	dst = append(dst, RESPError)
	dst = append(dst, stripCRLF(msg)...)
	return append(dst, '\r', '\n')
}

func AppendBulkString(dst []byte, s string) []byte {
	s = stripCRLF(s)
	dst = append(dst, RESPBulkString)
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, s...)
	return append(dst, '\r', '\n')
}

func AppendNullBulkString(dst []byte) []byte {
	return append(dst, RESPBulkString, '-', '1', '\r', '\n')
}

func AppendBulkStringArray(dst []byte, items []string) []byte {
	dst = append(dst, RESPArray)
	dst = strconv.AppendInt(dst, int64(len(items)), 10)
	dst = append(dst, '\r', '\n')
	for _, s := range items {
		dst = AppendBulkString(dst, s)
	}
	return dst
}

func stripCRLF(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
}
