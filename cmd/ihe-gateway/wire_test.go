package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/internal/config"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

const testConfig = `
gateway:
  homeCommunityId: 2.16.840.1.113883.3.9621
  organizationName: Metriport
  assertion:
    subjectId: Gateway Operator
    subjectRole: "106331006"
internalApi:
  baseUrl: http://api.internal:8080
directory:
  gateways:
    - homeCommunityId: 2.16.840.1.113883.3.1111
      xcpd: https://remote.example.org/xcpd
`

func TestAssertionDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	a := assertionDefaults(cfg.Gateway)
	assert.Equal(t, "Gateway Operator", a.SubjectID)
	assert.Equal(t, "106331006", a.SubjectRole.Code)
	assert.Equal(t, "Metriport", a.Organization)
	assert.Equal(t, "2.16.840.1.113883.3.9621", a.OrganizationID)
	assert.Equal(t, "2.16.840.1.113883.3.9621", a.HomeCommunityID)
	assert.Equal(t, "TREATMENT", a.PurposeOfUse)
}

func TestNewDirectory(t *testing.T) {
	assert.Nil(t, newDirectory(config.DirectoryConfig{}))

	dir := newDirectory(config.DirectoryConfig{
		Gateways: []config.GatewayEntry{{
			HomeCommunityID: "2.16.840.1.113883.3.1111",
			DocumentQuery:   "https://remote.example.org/xcadq",
		}},
	})
	require.NotNil(t, dir)

	e, err := dir.Lookup(context.Background(), "2.16.840.1.113883.3.1111")
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example.org/xcadq", e.URL(ihe.DocumentQuery))
}

func TestLoadKeyPair_Disabled(t *testing.T) {
	kp, err := loadKeyPair(config.SigningConfig{Mode: config.SigningNone})
	require.NoError(t, err)
	assert.Nil(t, kp)

	_, err = loadKeyPair(config.SigningConfig{Mode: config.SigningPEM, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	assert.ErrorContains(t, err, "loading signing key")
}

func TestNewValidators_Empty(t *testing.T) {
	v, err := newValidators(config.GatewayConfig{})
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestBuild_MemoryBackend(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	a, err := build(context.Background(), cfg, newLogger(cfg.Logging))
	require.NoError(t, err)
	assert.NotNil(t, a.server)
	assert.NotNil(t, a.dispatcher)
	assert.NoError(t, a.store.Ping(context.Background()))
	assert.NoError(t, a.store.Close(context.Background()))
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cmd := checkCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "home community 2.16.840.1.113883.3.9621")
	assert.Contains(t, out.String(), "signing disabled")
}
