package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

// Name is the software name reported by NodeInfo and the User-Agent
// default.
const Name = "fedigraph"

// RsaKeyPair holds a freshly generated actor keypair in PEM form.
type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// ConvertPublicKeyToPKIX converts a PKCS#1 public key PEM to PKIX format.
// Used to normalize a remote actor's published key to this instance's
// storage format regardless of which encoding the sender used.
func ConvertPublicKeyToPKIX(pemStr string) (string, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	if block.Type == "PUBLIC KEY" {
		return pemStr, nil
	}
	if block.Type != "RSA PUBLIC KEY" {
		return "", fmt.Errorf("unexpected PEM type: %s", block.Type)
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse PKCS#1 public key: %w", err)
	}

	pkixBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal PKIX public key: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkixBytes})), nil
}

// rsaKeyBits is the modulus size for every actor keypair this instance
// generates.
const rsaKeyBits = 2048

// GeneratePemKeypair generates an RSA-2048 keypair, PKCS#8/PKIX encoded.
func GeneratePemKeypair() (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes})

	pkixBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkixBytes})

	return &RsaKeyPair{Private: string(privPEM), Public: string(pubPEM)}, nil
}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
var whitespaceRunRegex = regexp.MustCompile(`\s+`)

// StripHTML produces a best-effort plain-text rendering of HTML content,
// for full-text indexing only. It is not a sanitizer and not a renderer:
// callers needing exact display should use the original HTML.
func StripHTML(htmlContent string) string {
	stripped := htmlTagRegex.ReplaceAllString(htmlContent, " ")
	stripped = whitespaceRunRegex.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

// IsURL checks if a given string is a valid HTTP or HTTPS URL.
func IsURL(text string) bool {
	text = strings.TrimSpace(text)
	urlRegex := regexp.MustCompile(`^https?://[^\s]+$`)
	return urlRegex.MatchString(text)
}
