package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// ErrBadSignature marks a signature that does not match the message.
var ErrBadSignature = errors.New("signature does not verify")

// Verifier checks a detached signature over message.
type Verifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// KeyFetcher is the part of the KMS API the verifier calls.
type KeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier checks release signatures locally against the public half
// of an asymmetric KMS key. The key is fetched on first use and kept; a
// failed fetch is retried on the next call.
type KMSVerifier struct {
	client KeyFetcher
	keyARN string

	// AllowPKCS1v15 accepts RSA PKCS1v15 signatures when PSS fails.
	AllowPKCS1v15 bool

	mu     sync.Mutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client KeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

func (v *KMSVerifier) KeyARN() string { return v.keyARN }

// PublicKey returns the cached key, fetching it from KMS the first time.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey == nil {
		pub, err := fetchPublicKey(ctx, v.client, v.keyARN)
		if err != nil {
			return nil, err
		}
		v.pubKey = pub
	}
	return v.pubKey, nil
}

func fetchPublicKey(ctx context.Context, client KeyFetcher, keyARN string) (crypto.PublicKey, error) {
	if client == nil {
		return nil, xerrors.New("kms client is not configured")
	}
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s: usage %s cannot verify signatures", keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key")
	}
	return pub, nil
}

// VerifySignature checks signature over message. ECDSA keys hash with
// the digest matching their curve; RSA keys use SHA-256.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature, v.AllowPKCS1v15)
	}
	return xerrors.Newf("unsupported public key type %T", pub)
}

var curveHash = map[elliptic.Curve]crypto.Hash{
	elliptic.P256(): crypto.SHA256,
	elliptic.P384(): crypto.SHA384,
}

func digest(h crypto.Hash, message []byte) []byte {
	d := h.New()
	d.Write(message)
	return d.Sum(nil)
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	name := key.Curve.Params().Name
	h, ok := curveHash[key.Curve]
	if !ok {
		return xerrors.Newf("unsupported ECDSA curve %s", name)
	}
	if !ecdsa.VerifyASN1(key, digest(h, message), signature) {
		return xerrors.Mark(xerrors.Newf("ECDSA %s", name), ErrBadSignature)
	}
	return nil
}

func verifyRSA(key *rsa.PublicKey, message, signature []byte, allowPKCS1v15 bool) error {
	sum := digest(crypto.SHA256, message)
	err := rsa.VerifyPSS(key, crypto.SHA256, sum, signature, nil)
	if err != nil && allowPKCS1v15 {
		err = rsa.VerifyPKCS1v15(key, crypto.SHA256, sum, signature)
	}
	if err != nil {
		return xerrors.Mark(xerrors.Wrap(err, "RSA"), ErrBadSignature)
	}
	return nil
}
