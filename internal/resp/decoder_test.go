package resp

import (
	"bufio"
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bulk(s string) Value   { return Value{Type: TypeBulkString, Str: s} }
func simple(s string) Value { return Value{Type: TypeSimpleString, Str: s} }
func array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{Type: TypeArray, Array: vs}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Value
	}{
		{"ping", "*1\r\n$4\r\nPING\r\n", array(bulk("PING"))},
		{"echo", "*2\r\n$4\r\nECHO\r\n$3\r\nhey\r\n", array(bulk("ECHO"), bulk("hey"))},
		{"set with px", "*5\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n$2\r\nPX\r\n$2\r\n10\r\n",
			array(bulk("SET"), bulk("k"), bulk("v"), bulk("PX"), bulk("10"))},
		{"simple string", "+OK\r\n", simple("OK")},
		{"simple string control chars trimmed", "+\tOK\x00\r\n", simple("OK")},
		{"bare bulk string", "$5\r\nhello\r\n", bulk("hello")},
		{"bulk string whitespace trimmed", "$7\r\n hello \r\n", bulk("hello")},
		{"bulk string with CR inside", "$3\r\na\rb\r\n", bulk("a\rb")},
		{"empty bulk string", "$0\r\n\r\n", bulk("")},
		{"empty array", "*0\r\n", array()},
		{"nested array", "*2\r\n*1\r\n+a\r\n$1\r\nb\r\n", array(array(simple("a")), bulk("b"))},
		{"mixed elements", "*2\r\n+GET\r\n$3\r\nfoo\r\n", array(simple("GET"), bulk("foo"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDecoder(strings.NewReader(tt.input)).Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_OneByteReads(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n+PING\r\n"
	d := NewDecoderSize(iotest.OneByteReader(strings.NewReader(input)), 16)

	got, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, array(bulk("SET"), bulk("foo"), bulk("bar")), got)

	got, err = d.Decode()
	require.NoError(t, err)
	assert.Equal(t, simple("PING"), got)

	_, err = d.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecode_LineLongerThanBuffer(t *testing.T) {
	text := strings.Repeat("x", 100)
	d := NewDecoderSize(strings.NewReader("+"+text+"\r\n"), 16)

	got, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, simple(text), got)
}

func TestDecode_CRLFSplitAcrossReads(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for _, chunk := range []string{"*1\r", "\n$4\r\nPI", "NG\r", "\n"} {
			_, _ = pw.Write([]byte(chunk))
		}
		_ = pw.Close()
	}()

	got, err := NewDecoder(pr).Decode()
	require.NoError(t, err)
	assert.Equal(t, array(bulk("PING")), got)
}

func TestDecode_Sequence(t *testing.T) {
	d := NewDecoder(strings.NewReader("*1\r\n$4\r\nPING\r\n*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))

	first, err := d.Decode()
	require.NoError(t, err)
	second, err := d.Decode()
	require.NoError(t, err)

	assert.Equal(t, []string{"PING"}, first.Strings())
	assert.Equal(t, []string{"GET", "k"}, second.Strings())

	_, err = d.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecode_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unsupported tag", ":1\r\n"},
		{"error tag", "-ERR\r\n"},
		{"non-numeric array length", "*x\r\n"},
		{"negative array length", "*-1\r\n"},
		{"empty bulk length", "$\r\n"},
		{"negative bulk length", "$-1\r\n"},
		{"bulk terminator mismatch", "$3\r\nfooXY"},
		{"eof in length", "*1"},
		{"eof in array", "*2\r\n$1\r\na\r\n"},
		{"eof in bulk payload", "$4\r\nPI"},
		{"eof in simple string", "+PON"},
		{"eof after tag", "$"},
		{"bulk too large", "$536870913\r\n"},
		{"unsupported nested tag", "*1\r\n#4\r\nPING\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.input)).Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestDecode_TerminatorErrorNamesPayload(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("$3\r\nfooXY")).Decode()
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), `"foo"`)
}

func TestDecode_UnexpectedEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("*2\r\n$3\r\nGET\r\n")).Decode()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecode_HugeDeclaredLength(t *testing.T) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	d := NewDecoder(strings.NewReader("$536870912\r\nab"))
	_, err := d.Decode()

	runtime.ReadMemStats(&after)
	require.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))
	assert.LessOrEqual(t, cap(d.src.data), scratchSize)
}

func TestDecode_LargeBulkString(t *testing.T) {
	payload := strings.Repeat("v", 3*scratchSize+7)
	input := "$" + strconv.Itoa(len(payload)) + "\r\n" + payload + "\r\n+next\r\n"
	d := NewDecoder(iotest.HalfReader(strings.NewReader(input)))

	v, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, payload, v.Str)
	assert.LessOrEqual(t, cap(d.src.data), scratchSize)

	v, err = d.Decode()
	require.NoError(t, err)
	assert.Equal(t, simple("next"), v)
}

func TestDecode_DepthLimit(t *testing.T) {
	input := strings.Repeat("*1\r\n", MaxDepth+1) + "+x\r\n"
	_, err := NewDecoder(strings.NewReader(input)).Decode()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_ReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewDecoder(iotest.ErrReader(boom)).Decode()
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrProtocol)
}

func TestDecoder_Buffered(t *testing.T) {
	d := NewDecoder(strings.NewReader("+a\r\n+b\r\n"))
	_, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, 4, d.Buffered())
}

func TestParse(t *testing.T) {
	input := []byte("*2\r\n$4\r\nECHO\r\n$3\r\nhey\r\n+PING\r\n")

	v, n, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, array(bulk("ECHO"), bulk("hey")), v)
	assert.Equal(t, 23, n)

	v, m, err := Parse(input[n:])
	require.NoError(t, err)
	assert.Equal(t, simple("PING"), v)
	assert.Equal(t, len(input), n+m)
}

func TestParse_EveryPrefixIsIncomplete(t *testing.T) {
	input := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	for i := 0; i < len(input); i++ {
		_, _, err := Parse(input[:i])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix %q", input[:i])
	}
	_, n, err := Parse(input)
	require.NoError(t, err)
	assert.Equal(t, len(input), n)
}

func TestParse_AgreesWithDecoder(t *testing.T) {
	inputs := []string{
		"*1\r\n$4\r\nPING\r\n",
		"+ hi\x01\r\n",
		"$0\r\n\r\n",
		"*0\r\n",
		"*2\r\n*1\r\n+a\r\n$1\r\nb\r\n",
	}
	for _, in := range inputs {
		want, err := NewDecoder(strings.NewReader(in)).Decode()
		require.NoError(t, err)
		got, n, err := Parse([]byte(in))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, len(in), n)
	}
}

func TestParse_ProtocolError(t *testing.T) {
	_, _, err := Parse([]byte("!oops\r\n"))
	assert.ErrorIs(t, err, ErrProtocol)

	_, _, err = Parse([]byte("$3\r\nfooXY"))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRoundTrip_BulkString(t *testing.T) {
	for _, text := range []string{"", "hello", "a b c", "ünïcødé", "x\ty"} {
		encoded := AppendBulkString(nil, text)
		got, err := NewDecoder(bufio.NewReader(strings.NewReader(string(encoded)))).Decode()
		require.NoError(t, err)
		assert.Equal(t, text, got.Str)
	}
}
