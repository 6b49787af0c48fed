package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignPrintsVerifiableHeaders(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sign", "get", "/v1/platforms/casino/users/u-1/balance",
		"--platform", "casino", "--secret", "s3cret"})
	require.NoError(t, Execute())

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		line = strings.TrimSuffix(strings.TrimPrefix(line, "-H '"), "'")
		k, v, ok := strings.Cut(line, ": ")
		require.True(t, ok, line)
		headers[k] = v
	}
	assert.Equal(t, "casino", headers[signer.HeaderPlatformToken])
	assert.NotEmpty(t, headers[signer.HeaderNonce])

	v, err := signer.NewVerifier(signer.EncodingHex, signer.DefaultSkew)
	require.NoError(t, err)
	assert.NoError(t, v.Verify("s3cret", headers[signer.HeaderTimestamp], "GET",
		"/v1/platforms/casino/users/u-1/balance", nil, headers[signer.HeaderSignature]))
}

func TestDepositNeedsExactlyOneAmount(t *testing.T) {
	rootCmd.SetArgs([]string{"deposit", "u-1", "--platform", "casino", "--secret", "s3cret",
		"--credits", "1", "--tokens", "2"})
	rootCmd.SetErr(&bytes.Buffer{})
	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}
