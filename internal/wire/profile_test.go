package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_BuiltinProfiles(t *testing.T) {
	for _, name := range []string{"husqvarna", "gardena", "open"} {
		t.Run(name, func(t *testing.T) {
			p, err := Lookup(name)

			require.NoError(t, err)
			assert.Equal(t, name, p.Name)
			assert.NotEmpty(t, p.ServiceUUID)
			assert.NotEmpty(t, p.CommandChar)
			assert.NotEmpty(t, p.ResponseChar)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("flymo")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "flymo")
}

func TestProfile_Encode(t *testing.T) {
	p, err := Lookup("husqvarna")
	require.NoError(t, err)

	for _, cmd := range Commands {
		payload := p.Encode(cmd)
		require.NotEmpty(t, payload, "every command MUST have a payload")

		// Mutating the returned slice must not corrupt the profile.
		payload[0] ^= 0xFF
		assert.NotEqual(t, payload[0], p.Encode(cmd)[0])
	}
}

func TestProfile_CommandPayloadsDistinct(t *testing.T) {
	p, err := Lookup("husqvarna")
	require.NoError(t, err)

	seen := make(map[string]Command)
	for _, cmd := range Commands {
		key := string(p.Encode(cmd))
		prev, dup := seen[key]
		require.False(t, dup, "payload for %s MUST differ from %s", cmd, prev)
		seen[key] = cmd
	}
}

func TestProfile_RequiresAuth(t *testing.T) {
	husqvarna, err := Lookup("husqvarna")
	require.NoError(t, err)
	assert.True(t, husqvarna.RequiresAuth())

	open, err := Lookup("open")
	require.NoError(t, err)
	assert.False(t, open.RequiresAuth())
}

func TestRegister_Validation(t *testing.T) {
	t.Run("rejects duplicate name", func(t *testing.T) {
		err := Register(&Profile{
			Name:         "husqvarna",
			ServiceUUID:  "0001",
			CommandChar:  "0002",
			ResponseChar: "0003",
		}, fullPayloadSet())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("rejects missing command payload", func(t *testing.T) {
		payloads := fullPayloadSet()
		delete(payloads, CommandDock)

		err := Register(&Profile{
			Name:         "incomplete",
			ServiceUUID:  "0001",
			CommandChar:  "0002",
			ResponseChar: "0003",
		}, payloads)

		assert.Error(t, err)
	})

	t.Run("rejects missing UUIDs", func(t *testing.T) {
		err := Register(&Profile{Name: "no-uuids"}, fullPayloadSet())

		assert.Error(t, err)
	})
}

func TestProfiles_RegistrationOrder(t *testing.T) {
	profiles := Profiles()

	require.GreaterOrEqual(t, len(profiles), 3)
	assert.Equal(t, "husqvarna", profiles[0].Name, "builtin order MUST be stable")
	assert.Equal(t, "gardena", profiles[1].Name)
}

func fullPayloadSet() map[Command][]byte {
	payloads := make(map[Command][]byte, len(Commands))
	for i, cmd := range Commands {
		payloads[cmd] = []byte{0x7E, byte(i + 1)}
	}
	return payloads
}
