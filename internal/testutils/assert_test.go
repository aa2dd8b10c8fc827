package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockTestingT struct {
	errors []string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errors = append(m.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()
	assert.True(t, opts.IgnoreExtraKeys)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		fails    bool
	}{
		{name: "equal objects", actual: `{"a":1,"b":"x"}`, expected: `{"b":"x","a":1}`},
		{name: "extra keys ignored", actual: `{"a":1,"b":2}`, expected: `{"a":1}`},
		{name: "extra keys reported", opts: []Option{WithIgnoreExtraKeys(false)}, actual: `{"a":1,"b":2}`, expected: `{"a":1}`, fails: true},
		{name: "value mismatch", actual: `{"a":1}`, expected: `{"a":2}`, fails: true},
		{name: "ignored nested field", opts: []Option{WithIgnoredFields("time")}, actual: `[{"a":1,"time":5}]`, expected: `[{"a":1,"time":7}]`},
		{name: "invalid actual", actual: `{`, expected: `{}`, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &mockTestingT{}
			NewJSONAsserter(mt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fails, len(mt.errors) > 0, "errors: %v", mt.errors)
		})
	}
}

func TestTextAsserter_Assert(t *testing.T) {
	t.Run("trailing whitespace ignored", func(t *testing.T) {
		mt := &mockTestingT{}
		NewTextAsserter(mt).Assert("a  \nb\n", "a\nb")
		assert.Empty(t, mt.errors)
	})

	t.Run("difference reported as unified diff", func(t *testing.T) {
		mt := &mockTestingT{}
		NewTextAsserter(mt).Assert("a\nc", "a\nb")
		if assert.Len(t, mt.errors, 1) {
			assert.Contains(t, mt.errors[0], "-b")
			assert.Contains(t, mt.errors[0], "+c")
		}
	})

	t.Run("colors", func(t *testing.T) {
		mt := &mockTestingT{}
		NewTextAsserter(mt).WithOptions(WithEnableColors(true)).Assert("x", "y")
		if assert.Len(t, mt.errors, 1) {
			assert.Contains(t, mt.errors[0], "\x1b[")
		}
	})
}
