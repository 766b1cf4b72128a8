package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanamind.org/internal/cipher"
	"sanamind.org/internal/dossier"
)

const testKey = "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE="

func setEnv(t *testing.T) {
	t.Setenv("SANAMIND_CONFIG", "")
	t.Setenv("SANAMIND_CAPABILITY_SECRET", "capability-secret-capability-sec")
	t.Setenv("SANAMIND_CAPABILITY_BASE_URL", "https://app.sanamind.example")
	t.Setenv("SANAMIND_SESSION_SECRET", "session-secret-session-secret-32")
	t.Setenv("SANAMIND_AUDIT_HASH_KEY", "hash")
	t.Setenv("SANAMIND_CIPHER_KEYS", "k1:"+testKey)
	t.Setenv("SANAMIND_ENV", "development")
}

func TestLinkCommand(t *testing.T) {
	setEnv(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"link", "--dossier", "d-1", "--grantee", "therapist-1", "--ttl", "2h"}, nil, &out))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, strings.HasPrefix(got["url"], "https://app.sanamind.example/dossiers/d-1/download?token="))
}

func TestSessionCommandRefusedInProduction(t *testing.T) {
	setEnv(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"session", "--user", "u-1", "--role", "client"}, nil, &out))
	assert.Contains(t, out.String(), "token")

	t.Setenv("SANAMIND_ENV", "production")
	err := run([]string{"session", "--user", "u-1", "--role", "client"}, nil, &out)
	require.Error(t, err)
}

func TestSealCommandRoundTrip(t *testing.T) {
	setEnv(t)
	in := strings.NewReader(`{"version":1,"client_alias":"A-1","client_name":"N","client_email":"e@x","scores":{"PHQ-9":4}}`)
	var out bytes.Buffer
	require.NoError(t, run([]string{"seal", "--in", "-"}, in, &out))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "k1", got["encryption_key_id"])
	sealed, err := base64.StdEncoding.DecodeString(got["encrypted_payload"])
	require.NoError(t, err)

	keys, err := cipher.ParseKeys(map[string]string{"k1": testKey}, []string{"k1"})
	require.NoError(t, err)
	plain, err := keys.Decrypt(sealed, "k1")
	require.NoError(t, err)
	p, err := dossier.DecodePayload(plain)
	require.NoError(t, err)
	assert.Equal(t, dossier.CurrentPayloadVersion, p.Version)
	assert.Equal(t, "N", p.Client.Name)
}

func TestUnknownCommand(t *testing.T) {
	require.Error(t, run([]string{"frobnicate"}, nil, &bytes.Buffer{}))
}
