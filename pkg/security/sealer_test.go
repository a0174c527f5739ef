package security

import (
	"bytes"
	"testing"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"valid 32-byte key", make([]byte, 32), false},
		{"short key", make([]byte, 16), true},
		{"long key", make([]byte, 64), true},
		{"nil key", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSealer(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewSealerFromPassphrase("")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealerFromPassphrase("correct horse")
	require.NoError(t, err)

	a, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b), "nonce must differ")

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))

	other, err := NewSealerFromPassphrase("wrong")
	require.NoError(t, err)
	_, err = other.Open(a)
	assert.Error(t, err)

	_, err = s.Open([]byte{1, 2})
	assert.Error(t, err)
	_, err = s.Seal(nil)
	assert.Error(t, err)
}

func TestSSHPassword(t *testing.T) {
	s, err := NewSealerFromPassphrase("correct horse")
	require.NoError(t, err)
	asset := &types.Asset{Name: "gpu"}

	require.NoError(t, s.SealSSHPassword(asset, "hunter2"))
	assert.NotEqual(t, []byte("hunter2"), asset.SSH.Password)
	assert.Nil(t, asset.Redacted().SSH.Password)

	got, err := s.SSHPassword(asset)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, s.SealSSHPassword(asset, ""))
	assert.Nil(t, asset.SSH.Password)

	var none *Sealer
	assert.ErrorIs(t, none.SealSSHPassword(asset, "x"), ErrNoKey)
	assert.NoError(t, none.SealSSHPassword(asset, ""))
}
