package blockcrypt

import (
	"bytes"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libblocks-go/block"
)

// fastParams keeps Argon2id cheap in tests.
var fastParams = KDFParams{Time: 1, MemoryKiB: 1024, Parallelism: 1}

func testKey(t *testing.T) *Key {
	t.Helper()
	salt, err := GenerateSalt()
	require.NoError(t, err)
	key, err := DeriveKey("correct horse", salt, fastParams)
	require.NoError(t, err)
	return key
}

func testCodec(t *testing.T, v Version) *Codec {
	t.Helper()
	c, err := NewCodec(testKey(t), v)
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// Key derivation
// ---------------------------------------------------------------------------

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)
	assert.Len(t, a, SaltLen)
	assert.NotEqual(t, a, b, "salts must be random")
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x07}, SaltLen)
	k1, err := DeriveKey("pw", salt, fastParams)
	require.NoError(t, err)
	k2, err := DeriveKey("pw", salt, fastParams)
	require.NoError(t, err)
	k3, err := DeriveKey("other", salt, fastParams)
	require.NoError(t, err)

	assert.Equal(t, k1.raw, k2.raw)
	assert.NotEqual(t, k1.raw, k3.raw)
	assert.Len(t, k1.raw, KeyLen)
}

func TestDeriveKey_Errors(t *testing.T) {
	_, err := DeriveKey("", make([]byte, SaltLen), fastParams)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = DeriveKey("pw", make([]byte, 8), fastParams)
	assert.ErrorIs(t, err, ErrInvalidSalt)
}

func TestDeriveKeyFromIdentity(t *testing.T) {
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	salt := bytes.Repeat([]byte{0x01}, SaltLen)

	k1, err := DeriveKeyFromIdentity(priv, salt)
	require.NoError(t, err)
	k2, err := DeriveKeyFromIdentity(priv, salt)
	require.NoError(t, err)
	assert.Equal(t, k1.raw, k2.raw)

	other, err := DeriveKeyFromIdentity(priv, bytes.Repeat([]byte{0x02}, SaltLen))
	require.NoError(t, err)
	assert.NotEqual(t, k1.raw, other.raw)

	_, err = DeriveKeyFromIdentity(nil, salt)
	assert.ErrorIs(t, err, ErrNilIdentity)
}

func TestKeyFromBytes(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, KeyLen)
	k, err := KeyFromBytes(raw)
	require.NoError(t, err)
	raw[0] = 0
	assert.Equal(t, byte(0xAB), k.raw[0], "key must copy its input")

	_, err = KeyFromBytes([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKey_Zero(t *testing.T) {
	key := testKey(t)
	raw := key.raw
	c, err := NewCodec(key, DefaultVersion)
	require.NoError(t, err)

	h := block.Sum([]byte("x"))
	env, err := c.Seal(h, []byte("x"))
	require.NoError(t, err)

	key.Zero()
	assert.False(t, key.Available())
	assert.Equal(t, make([]byte, KeyLen), raw, "buffer must be overwritten")

	_, err = c.Seal(h, []byte("x"))
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	_, err = c.Open(h, env)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	assert.NotErrorIs(t, err, ErrCorrupt)

	key.Zero() // idempotent
	var nilKey *Key
	assert.False(t, nilKey.Available())
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

func TestCodec_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":        {},
		"hello":        []byte("hello"),
		"compressible": bytes.Repeat([]byte("abc"), 10_000),
		"binary":       {0x00, 0xFF, 0x10, 0x80},
	}
	for _, v := range []Version{VersionAESGCM, VersionXChaCha} {
		c := testCodec(t, v)
		for name, data := range inputs {
			t.Run(v.String()+"/"+name, func(t *testing.T) {
				h := block.Sum(data)
				env, err := c.Seal(h, data)
				require.NoError(t, err)
				assert.Equal(t, byte(v), env[0])

				got, err := c.Open(h, env)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		}
	}
}

func TestCodec_CompressesRepetitiveData(t *testing.T) {
	c := testCodec(t, DefaultVersion)
	data := bytes.Repeat([]byte{0x42}, 64*1024)
	env, err := c.Seal(block.Sum(data), data)
	require.NoError(t, err)
	assert.Less(t, len(env), len(data)/2)
}

func TestCodec_OpensOtherVersion(t *testing.T) {
	key := testKey(t)
	aes, err := NewCodec(key, VersionAESGCM)
	require.NoError(t, err)
	xchacha, err := NewCodec(key, VersionXChaCha)
	require.NoError(t, err)

	data := []byte("written before the cipher switch")
	h := block.Sum(data)
	env, err := aes.Seal(h, data)
	require.NoError(t, err)

	got, err := xchacha.Open(h, env)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCodec_Corruption(t *testing.T) {
	c := testCodec(t, DefaultVersion)
	data := []byte("payload")
	h := block.Sum(data)
	env, err := c.Seal(h, data)
	require.NoError(t, err)

	flipped := append([]byte(nil), env...)
	flipped[len(flipped)-1] ^= 0x01

	unknown := append([]byte(nil), env...)
	unknown[0] = 0x7F

	tests := []struct {
		name    string
		hash    block.Hash
		env     []byte
		wantErr error
	}{
		{"empty", h, nil, ErrInvalidCiphertext},
		{"truncated", h, env[:10], ErrInvalidCiphertext},
		{"tag mismatch", h, flipped, ErrDecryptionFailed},
		{"unknown version", h, unknown, ErrUnknownVersion},
		{"wrong hash", block.Sum([]byte("other")), env, ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Open(tt.hash, tt.env)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestCodec_WrongKey(t *testing.T) {
	data := []byte("secret")
	h := block.Sum(data)
	env, err := testCodec(t, DefaultVersion).Seal(h, data)
	require.NoError(t, err)

	_, err = testCodec(t, DefaultVersion).Open(h, env)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_ConcurrentUse(t *testing.T) {
	c := testCodec(t, DefaultVersion)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(i)}, 100+i)
			h := block.Sum(data)
			env, err := c.Seal(h, data)
			assert.NoError(t, err)
			got, err := c.Open(h, env)
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}(i)
	}
	wg.Wait()
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, VersionAESGCM, v)

	v, err = ParseVersion("xchacha20")
	require.NoError(t, err)
	assert.Equal(t, VersionXChaCha, v)

	_, err = ParseVersion("rot13")
	assert.ErrorIs(t, err, ErrUnknownCipher)
	assert.NotErrorIs(t, err, ErrCorrupt)

	_, err = NewCodec(testKey(t), Version(0x09))
	assert.ErrorIs(t, err, ErrUnknownCipher)
	assert.NotErrorIs(t, err, ErrCorrupt)
}
