package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindInvalidCredentials},
		{403, KindAccessDenied},
		{404, KindNotFound},
		{408, KindTimeout},
		{429, KindRateLimited},
		{500, KindGeneric},
		{504, KindTimeout},
	}
	for _, tc := range cases {
		perr := classifyStatus("openai", tc.status)
		assert.Equal(t, tc.want, perr.Kind, "status %d", tc.status)
		assert.Equal(t, "openai", perr.Provider)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindTimeout, classifyError("ollama", context.DeadlineExceeded).Kind)
	assert.Equal(t, KindUnreachable, classifyError("ollama", errors.New("dial tcp: connection refused")).Kind)
	assert.Equal(t, KindUnreachable, classifyError("ollama", errors.New("lookup llm.internal: no such host")).Kind)
	assert.Equal(t, KindGeneric, classifyError("ollama", errors.New("something else")).Kind)
}

func TestProviderErrorMessageIsSanitized(t *testing.T) {
	perr := classifyError("openai", errors.New("Bearer sk-secret-key rejected at https://internal/endpoint"))
	assert.NotContains(t, perr.Error(), "sk-secret-key")
	assert.NotContains(t, perr.Message(), "internal")
	assert.NotEmpty(t, perr.Message())
}
