package errclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ExplicitClassWins(t *testing.T) {
	// The message says timeout but the wrapper says DATA.
	err := New(Data, errors.New("timeout while parsing"))
	assert.Equal(t, Data, Classify(err))
}

func TestClassify_ExplicitClassSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler failed: %w", New(Auth, errors.New("token rejected")))
	assert.Equal(t, Auth, Classify(err))
}

func TestClassify_KeywordInference(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"dial tcp: connection refused", Transient},
		{"context deadline exceeded", Transient},
		{"429 too many requests", Transient},
		{"request timed out after 30s", Transient},
		{"401 unauthorized", Auth},
		{"invalid credentials for smtp relay", Auth},
		{"malformed recipient address", Data},
		{"missing field: amount", Data},
		{"json: cannot unmarshal string", Data},
		{"write /var/data: no space left on device", System},
		{"open /etc/app: permission denied", System},
		{"unexpected template variable", Logic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(errors.New(tc.msg)), "message %q", tc.msg)
	}
}

func TestClassify_DefaultsToLogic(t *testing.T) {
	assert.Equal(t, Logic, Classify(errors.New("something else entirely")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Transient))
	assert.True(t, Retryable(System))
	assert.False(t, Retryable(Auth))
	assert.False(t, Retryable(Logic))
	assert.False(t, Retryable(Data))
}
