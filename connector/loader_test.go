package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalDoc = `
name: widgets-api
version: "1.0"
base_url: https://api.example.com
auth:
  type: bearer
  token: "{{ config.api_token }}"
streams:
  - name: widgets
    request:
      method: GET
      path: /v1/widgets
    decoder:
      type: json
      records_path: data.items
`

func TestParseMinimalConnector(t *testing.T) {
	var def, err = Parse([]byte(minimalDoc))
	require.NoError(t, err)
	require.Equal(t, "widgets-api", def.Name)
	require.Len(t, def.Streams, 1)
	require.Equal(t, AuthBearer, def.Auth.Type)
	require.Equal(t, MethodGet, def.Streams[0].EffectiveMethod())
}

func TestValidateRejectsMissingName(t *testing.T) {
	var _, err = Parse([]byte(`
base_url: https://api.example.com
streams:
  - name: a
    request: { path: /a }
`))
	require.Error(t, err)
}

func TestValidateRejectsDuplicateStreamNames(t *testing.T) {
	var _, err = Parse([]byte(`
name: dup
base_url: https://api.example.com
streams:
  - name: a
    request: { path: /a }
  - name: a
    request: { path: /b }
`))
	require.Error(t, err)
}

func TestValidateRejectsUnknownPaginationType(t *testing.T) {
	var _, err = Parse([]byte(`
name: bad
base_url: https://api.example.com
streams:
  - name: a
    request: { path: /a }
    pagination: { type: carrier_pigeon }
`))
	require.Error(t, err)
}
