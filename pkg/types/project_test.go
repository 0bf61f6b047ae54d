package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse_Equal_IgnoresElapsedTime(t *testing.T) {
	a := Response{Stdout: "hi\n", Stderr: "", ExitCode: 0, ElapsedTime: 0.012}
	b := Response{Stdout: "hi\n", Stderr: "", ExitCode: 0, ElapsedTime: 9.9}
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestResponse_Equal_DistinguishesFields(t *testing.T) {
	base := Response{Stdout: "a", Stderr: "b", ExitCode: 0}

	cases := []Response{
		{Stdout: "x", Stderr: "b", ExitCode: 0},
		{Stdout: "a", Stderr: "y", ExitCode: 0},
		{Stdout: "a", Stderr: "b", ExitCode: 1},
	}
	for _, c := range cases {
		assert.False(t, base.Equal(c))
	}
}

func TestResponse_String_FormatsMilliseconds(t *testing.T) {
	r := Response{Stdout: "out", Stderr: "", ExitCode: 0, ElapsedTime: 0.0321}
	s := r.String()
	assert.Contains(t, s, "32.1ms")
	assert.Contains(t, s, "exit=0")
}

func TestExitForSignal(t *testing.T) {
	assert.Equal(t, 137, ExitForSignal(9))  // SIGKILL
	assert.Equal(t, 143, ExitForSignal(15)) // SIGTERM
}
