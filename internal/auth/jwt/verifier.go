package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vyrodovalexey/docguard/internal/clearance"
	"github.com/vyrodovalexey/docguard/internal/observability"
)

// Verifier verifies bearer tokens and produces the canonical attribute set.
type Verifier interface {
	// Verify verifies a token and returns the subject's attributes.
	Verify(ctx context.Context, token string) (*UserAttributes, error)

	// VerifyClaims verifies a token and returns the raw claims.
	VerifyClaims(ctx context.Context, token string) (*Claims, error)
}

// verifier implements the Verifier interface.
type verifier struct {
	config    *Config
	keys      KeyResolver
	hierarchy *clearance.Hierarchy
	logger    observability.Logger
	metrics   *Metrics
}

var _ Verifier = (*verifier)(nil)

// KeyResolver resolves a signing key by its identifier.
type KeyResolver interface {
	Resolve(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*verifier)

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *verifier) {
		v.logger = logger
	}
}

// WithVerifierMetrics sets the metrics for the verifier.
func WithVerifierMetrics(metrics *Metrics) VerifierOption {
	return func(v *verifier) {
		v.metrics = metrics
	}
}

// WithKeyResolver sets the key resolver for the verifier.
func WithKeyResolver(keys KeyResolver) VerifierOption {
	return func(v *verifier) {
		v.keys = keys
	}
}

// NewVerifier creates a new token verifier.
func NewVerifier(config *Config, hierarchy *clearance.Hierarchy, opts ...VerifierOption) (Verifier, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if hierarchy == nil {
		return nil, fmt.Errorf("clearance hierarchy is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}

	v := &verifier{
		config:    config,
		hierarchy: hierarchy,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = GetSharedMetrics()
	}

	if v.keys == nil {
		keys, err := NewKeyDirectoryCache(
			config.JWKSUrl,
			WithCacheTTL(config.GetEffectiveKeyCacheTTL()),
			WithKeyDirectoryLogger(v.logger),
			WithKeyDirectoryMetrics(v.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create key directory cache: %w", err)
		}
		v.keys = keys
	}

	return v, nil
}

// Verify verifies a token and maps its claims to UserAttributes.
func (v *verifier) Verify(ctx context.Context, token string) (*UserAttributes, error) {
	claims, err := v.VerifyClaims(ctx, token)
	if err != nil {
		return nil, err
	}

	attrs, err := AttributesFromClaims(claims, v.config.GetEffectiveClaimNames(), v.hierarchy)
	if err != nil {
		v.metrics.RecordVerification("error", "attributes", 0)
		return nil, err
	}

	return attrs, nil
}

// VerifyClaims verifies a token and returns the raw claims.
func (v *verifier) VerifyClaims(ctx context.Context, token string) (*Claims, error) {
	start := time.Now()

	if token == "" {
		v.metrics.RecordVerification("error", "empty_token", time.Since(start))
		return nil, ErrNoToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		v.metrics.RecordVerification("error", "malformed", time.Since(start))
		return nil, ErrTokenMalformed
	}

	header, err := v.decodeHeader(parts[0])
	if err != nil {
		v.metrics.RecordVerification("error", "invalid_header", time.Since(start))
		return nil, NewVerificationError("failed to decode header", ErrTokenMalformed)
	}

	if err := v.checkAlgorithm(header.Algorithm); err != nil {
		v.metrics.RecordVerification("error", "algorithm", time.Since(start))
		return nil, err
	}

	claims, err := v.decodePayload(parts[1])
	if err != nil {
		v.metrics.RecordVerification("error", "invalid_payload", time.Since(start))
		return nil, NewVerificationError("failed to decode payload", ErrTokenMalformed)
	}

	if err := v.verifySignature(ctx, header, parts[0]+"."+parts[1], parts[2]); err != nil {
		v.metrics.RecordVerification("error", "signature", time.Since(start))
		return nil, err
	}

	if err := v.checkClaims(claims); err != nil {
		v.metrics.RecordVerification("error", "claims", time.Since(start))
		return nil, err
	}

	v.metrics.RecordVerification("success", header.Algorithm, time.Since(start))
	v.logger.Debug("token verified",
		observability.String("subject", claims.Subject),
		observability.String("issuer", claims.Issuer),
	)

	return claims, nil
}

// tokenHeader represents the JOSE header.
type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid"`
}

func (v *verifier) decodeHeader(encoded string) (*tokenHeader, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}

	var header tokenHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	return &header, nil
}

func (v *verifier) decodePayload(encoded string) (*Claims, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var claimsMap map[string]interface{}
	if err := json.Unmarshal(data, &claimsMap); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	return ParseClaims(claimsMap), nil
}

// checkAlgorithm enforces the allow-list. The asymmetric requirement is
// checked first so that "none" and HS* never pass, whatever is configured.
func (v *verifier) checkAlgorithm(alg string) error {
	if !asymmetricAlgorithms[alg] {
		return NewVerificationError(fmt.Sprintf("algorithm %q is not asymmetric", alg), ErrUnsupportedAlgorithm)
	}

	for _, allowed := range v.config.GetEffectiveAlgorithms() {
		if alg == allowed {
			return nil
		}
	}

	return NewVerificationError(fmt.Sprintf("algorithm %q is not allowed", alg), ErrUnsupportedAlgorithm)
}

func (v *verifier) verifySignature(ctx context.Context, header *tokenHeader, signingInput, signature string) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return NewVerificationError("failed to decode signature", ErrTokenMalformed)
	}

	key, err := v.keys.Resolve(ctx, header.KeyID)
	if err != nil {
		return err
	}

	switch header.Algorithm {
	case AlgRS256:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA256)
	case AlgRS384:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA384)
	case AlgRS512:
		return verifyRSA(key, signingInput, sigBytes, crypto.SHA512)
	case AlgPS256:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA256)
	case AlgPS384:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA384)
	case AlgPS512:
		return verifyRSAPSS(key, signingInput, sigBytes, crypto.SHA512)
	case AlgES256:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA256)
	case AlgES384:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA384)
	case AlgES512:
		return verifyECDSA(key, signingInput, sigBytes, crypto.SHA512)
	case AlgEdDSA:
		return verifyEdDSA(key, signingInput, sigBytes)
	default:
		return NewVerificationError(fmt.Sprintf("unsupported algorithm: %s", header.Algorithm), ErrUnsupportedAlgorithm)
	}
}

func (v *verifier) checkClaims(claims *Claims) error {
	if err := claims.ValidWithSkew(v.config.GetEffectiveClockSkew()); err != nil {
		return err
	}

	if v.config.Issuer != "" && claims.Issuer != v.config.Issuer {
		return NewVerificationError(fmt.Sprintf("issuer %q is not expected", claims.Issuer), ErrTokenInvalidIssuer)
	}

	if len(v.config.Audience) > 0 && !claims.Audience.ContainsAny(v.config.Audience...) {
		return NewVerificationError("audience does not match", ErrTokenInvalidAudience)
	}

	return nil
}

func verifyRSA(key crypto.PublicKey, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return NewVerificationError("key is not an RSA public key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))
	hashed := h.Sum(nil)

	if err := rsa.VerifyPKCS1v15(rsaKey, hashAlg, hashed, signature); err != nil {
		return NewVerificationError("RSA signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}

func verifyRSAPSS(key crypto.PublicKey, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return NewVerificationError("key is not an RSA public key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))
	hashed := h.Sum(nil)

	opts := &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       hashAlg,
	}

	if err := rsa.VerifyPSS(rsaKey, hashAlg, hashed, signature, opts); err != nil {
		return NewVerificationError("RSA-PSS signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}

func verifyECDSA(key crypto.PublicKey, signingInput string, signature []byte, hashAlg crypto.Hash) error {
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return NewVerificationError("key is not an ECDSA public key", ErrInvalidKey)
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))
	hashed := h.Sum(nil)

	// JWS ECDSA signatures are the raw r || s concatenation.
	keySize := (ecdsaKey.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*keySize {
		return NewVerificationError("invalid ECDSA signature length", ErrTokenInvalidSignature)
	}

	r := new(big.Int).SetBytes(signature[:keySize])
	s := new(big.Int).SetBytes(signature[keySize:])

	if !ecdsa.Verify(ecdsaKey, hashed, r, s) {
		return NewVerificationError("ECDSA signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}

func verifyEdDSA(key crypto.PublicKey, signingInput string, signature []byte) error {
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return NewVerificationError("key is not an Ed25519 public key", ErrInvalidKey)
	}

	if !ed25519.Verify(edKey, []byte(signingInput), signature) {
		return NewVerificationError("Ed25519 signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}
