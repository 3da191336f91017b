package data

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidMagnetLink(t *testing.T) {
	valid := []string{
		"magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		"magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=ds",
		"urn:btih:deadbeef",
	}
	for _, s := range valid {
		require.True(t, ValidMagnetLink(s), s)
	}

	invalid := []string{
		"",
		"magnet:?xt=urn:btih:",
		"magnet:?xt=urn:sha1:c12fe1c06bba254a",
		"http://example.com/ds.torrent",
	}
	for _, s := range invalid {
		require.False(t, ValidMagnetLink(s), s)
	}
}
