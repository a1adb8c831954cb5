package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

// buildKeySet marshals the given public keys into a JWKS document.
func buildKeySet(t *testing.T, kids map[string]interface{}) []byte {
	t.Helper()

	set := jwk.NewSet()
	for kid, pub := range kids {
		key, err := jwk.FromRaw(pub)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(t, set.AddKey(key))
	}

	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

func TestNewKeyDirectoryCache(t *testing.T) {
	t.Parallel()

	t.Run("empty URL returns error", func(t *testing.T) {
		t.Parallel()

		cache, err := NewKeyDirectoryCache("")
		assert.Error(t, err)
		assert.Nil(t, cache)
	})

	t.Run("valid URL with options", func(t *testing.T) {
		t.Parallel()

		cache, err := NewKeyDirectoryCache(
			"https://idp.example.com/.well-known/jwks.json",
			WithCacheTTL(10*time.Minute),
			WithNegativeTTL(time.Minute),
			WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
			WithKeyDirectoryLogger(observability.NopLogger()),
			WithFetchLimit(30),
		)
		require.NoError(t, err)
		assert.NotNil(t, cache)
		assert.Equal(t, "https://idp.example.com/.well-known/jwks.json", cache.URL())
	})
}

func TestKeyDirectoryCache_Resolve(t *testing.T) {
	t.Parallel()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := buildKeySet(t, map[string]interface{}{"signing-key": privateKey.Public()})

	t.Run("resolves and caches a known kid", func(t *testing.T) {
		t.Parallel()

		var fetches atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(keySet)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL)
		require.NoError(t, err)

		key, err := cache.Resolve(context.Background(), "signing-key")
		require.NoError(t, err)
		assert.NotNil(t, key)
		assert.False(t, cache.LastFetch().IsZero())

		// Second resolution is served from cache without I/O.
		_, err = cache.Resolve(context.Background(), "signing-key")
		require.NoError(t, err)
		assert.Equal(t, int64(1), fetches.Load())
	})

	t.Run("unknown kid is negatively cached", func(t *testing.T) {
		t.Parallel()

		var fetches atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			_, _ = w.Write(keySet)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL, WithNegativeTTL(time.Minute))
		require.NoError(t, err)

		_, err = cache.Resolve(context.Background(), "no-such-key")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownKeyID)

		_, err = cache.Resolve(context.Background(), "no-such-key")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownKeyID)
		assert.Equal(t, int64(1), fetches.Load())
	})

	t.Run("serves stale key when refresh fails", func(t *testing.T) {
		t.Parallel()

		var fail atomic.Bool
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(keySet)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL, WithCacheTTL(time.Nanosecond))
		require.NoError(t, err)

		_, err = cache.Resolve(context.Background(), "signing-key")
		require.NoError(t, err)

		fail.Store(true)
		time.Sleep(time.Millisecond)

		key, err := cache.Resolve(context.Background(), "signing-key")
		require.NoError(t, err)
		assert.NotNil(t, key)
	})

	t.Run("unavailable directory without cached key", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL)
		require.NoError(t, err)

		_, err = cache.Resolve(context.Background(), "signing-key")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrKeyDirectoryUnavailable)

		var kerr *KeyResolutionError
		require.ErrorAs(t, err, &kerr)
		assert.Equal(t, "signing-key", kerr.KeyID)
	})

	t.Run("concurrent resolutions share one fetch", func(t *testing.T) {
		t.Parallel()

		var fetches atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write(keySet)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.Resolve(context.Background(), "signing-key")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), fetches.Load())
	})

	t.Run("malformed keys are skipped", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{"keys":[
			{"kty":"RSA","kid":"broken","n":"!!!","e":"AQAB"},
			{"kty":"oct","kid":"symmetric","k":"c2VjcmV0"}
		]}`)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload)
		}))
		defer server.Close()

		cache, err := NewKeyDirectoryCache(server.URL)
		require.NoError(t, err)

		_, err = cache.Resolve(context.Background(), "broken")
		assert.ErrorIs(t, err, ErrUnknownKeyID)
		_, err = cache.Resolve(context.Background(), "symmetric")
		assert.ErrorIs(t, err, ErrUnknownKeyID)
	})
}

func TestJSONWebKey_PublicKey(t *testing.T) {
	t.Parallel()

	t.Run("EC key round trip", func(t *testing.T) {
		t.Parallel()

		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		data := buildKeySet(t, map[string]interface{}{"ec-key": priv.Public()})

		var set JSONWebKeySet
		require.NoError(t, json.Unmarshal(data, &set))
		require.Len(t, set.Keys, 1)

		key, err := set.Keys[0].PublicKey()
		require.NoError(t, err)
		ecKey, ok := key.(*ecdsa.PublicKey)
		require.True(t, ok)
		assert.True(t, ecKey.Equal(priv.Public()))
	})

	t.Run("Ed25519 key round trip", func(t *testing.T) {
		t.Parallel()

		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		data := buildKeySet(t, map[string]interface{}{"ed-key": pub})

		var set JSONWebKeySet
		require.NoError(t, json.Unmarshal(data, &set))
		require.Len(t, set.Keys, 1)

		key, err := set.Keys[0].PublicKey()
		require.NoError(t, err)
		assert.IsType(t, ed25519.PublicKey{}, key)
	})

	t.Run("unsupported key type", func(t *testing.T) {
		t.Parallel()

		jwkKey := JSONWebKey{Kty: "oct", Kid: "symmetric"}
		_, err := jwkKey.PublicKey()
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("unsupported curve", func(t *testing.T) {
		t.Parallel()

		jwkKey := JSONWebKey{Kty: "EC", Kid: "weird", Crv: "secp256k1"}
		_, err := jwkKey.PublicKey()
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
