package broker

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// Signer computes the SnapTrade request signature: an HMAC-SHA256 over the
// canonical JSON of {content, path, query}, keyed by the consumer key and
// base64 encoded.
type Signer struct {
	consumerKey []byte
}

// NewSigner creates a signer for the given consumer key.
func NewSigner(consumerKey string) *Signer {
	return &Signer{consumerKey: []byte(consumerKey)}
}

// Wipe clears the key from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.consumerKey {
		s.consumerKey[i] = 0
	}
}

// sigObject field order is alphabetical, which is what the backend
// canonicalises to.
type sigObject struct {
	Content json.RawMessage `json:"content"`
	Path    string          `json:"path"`
	Query   string          `json:"query"`
}

// Sign returns the signature for a request. path is the full URL path
// (including the /api/v1 prefix), query the encoded query string, and body
// the raw JSON request body or nil.
func (s *Signer) Sign(path, query string, body []byte) (string, error) {
	content := json.RawMessage("null")
	if len(body) > 0 {
		compact, err := canonicalJSON(body)
		if err != nil {
			return "", err
		}
		content = compact
	}
	payload, err := marshalRaw(sigObject{Content: content, Path: path, Query: query})
	if err != nil {
		return "", err
	}
	return s.computeHmacSha256(payload), nil
}

func (s *Signer) computeHmacSha256(payload []byte) string {
	mac := hmac.New(sha256.New, s.consumerKey)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// canonicalJSON re-encodes body with sorted object keys and no whitespace.
func canonicalJSON(body []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return marshalRaw(v)
}

// marshalRaw encodes v like json.Marshal but leaves &, < and > unescaped.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
