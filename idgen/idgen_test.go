package idgen_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/idgen"
)

func TestNanoIDLengthAndAlphabet(t *testing.T) {
	gen := idgen.NanoID(8)
	pattern := regexp.MustCompile(`^[0-9a-z]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen()
		require.Regexp(t, pattern, id)
		seen[id] = true
	}
	// 100 draws from a 36^8 space colliding would point at a broken
	// random source, not bad luck.
	require.Greater(t, len(seen), 95)
}

func TestUUIDv7ParsesAsVersion7(t *testing.T) {
	gen := idgen.UUIDv7()
	id := gen()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestPrefixedComposes(t *testing.T) {
	gen := idgen.Prefixed("rpt_", idgen.NanoID(6))
	id := gen()
	require.True(t, strings.HasPrefix(id, "rpt_"))
	require.Len(t, id, len("rpt_")+6)
}

func TestDefaultIsUsable(t *testing.T) {
	require.NoError(t, uuid.Validate(idgen.New()))
}
