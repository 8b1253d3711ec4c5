package activitypub

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/deemkeen/fedigraph/util"
)

// GenerateKeyPair produces a fresh RSA-2048 keypair in PKCS#8/PKIX PEM,
// the format every newly created local actor is issued.
func GenerateKeyPair() (*util.RsaKeyPair, error) {
	return util.GeneratePemKeypair()
}

// Digest computes the SHA-256 digest of body in the "SHA-256=<base64>"
// form the HTTP Signature codec and its callers expect.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// RsaSign signs message with an RSA-SHA256 PKCS#1 v1.5 signature,
// Base64-standard encoded.
func RsaSign(privateKey *rsa.PrivateKey, message []byte) (string, error) {
	hashed := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// RsaVerify verifies an RSA-SHA256 PKCS#1 v1.5 signature over message.
// Any malformed signature or key mismatch yields false; it never returns
// an error, matching the codec's boundary contract of never raising on
// bad input.
func RsaVerify(publicKey *rsa.PublicKey, message []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	hashed := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, hashed[:], sig) == nil
}
