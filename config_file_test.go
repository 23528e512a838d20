// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfigTOML = `
base_url = "https://www.esempio.it"
authn_context_class = "https://www.spid.gov.it/SpidL1"
landing_url = "/area-riservata"
metadata_dirs = ["testdata/idp"]

[organization]
name = "Comune di Esempio"
display_name = "Comune di Esempio"
url = "https://comune.esempio.it"

[[contacts]]
type = "other"
email = "spid@comune.esempio.it"
ipa_code = "c_e123"

[[contacts]]
type = "billing"
email = "fatture@comune.esempio.it"

[contacts.billing]
id_paese = "IT"
id_codice = "01234567890"
denominazione = "Comune di Esempio"
indirizzo = "Via Roma"
cap = "00100"
comune = "Esempio"
nazione = "IT"
`

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "spid.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigTOML), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://www.esempio.it", cfg.BaseURL)
	assert.Equal(t, AuthnContextSpidL1, cfg.AuthnContextClass)
	assert.Equal(t, "/area-riservata", cfg.LandingURL)
	assert.Equal(t, []string{"testdata/idp"}, cfg.MetadataDirs)

	require.Len(t, cfg.Contacts, 2)
	assert.Equal(t, "c_e123", cfg.Contacts[0].IPACode)
	require.NotNil(t, cfg.Contacts[1].Billing)
	assert.Equal(t, "01234567890", cfg.Contacts[1].Billing.IDCodice)

	// defaults still applied on top of the file
	assert.Equal(t, DefaultClockSkew, cfg.AcceptedClockSkew)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile("no/such/file.toml")
		require.Error(t, err)
	})

	t.Run("malformed TOML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte("[organization\n"), 0o600))
		_, err := LoadConfigFile(path)
		require.Error(t, err)
	})

	t.Run("valid TOML failing validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "incomplete.toml")
		require.NoError(t, os.WriteFile(path, []byte("base_url = \"https://x\"\n"), 0o600))
		_, err := LoadConfigFile(path)
		require.ErrorIs(t, err, ErrConfiguration)
	})
}
